// Package page implements the physical page ledger: a fixed arena of 4KB
// frames with a free-list allocator, contiguous-run allocation for DMA-style
// objects, and a reservation discipline that lets multi-step tree mutations
// pre-fund their allocations so no step can fail after partial mutation.
//
// Frames are exclusively owned: exactly one slot map holds a given frame at
// any time, and ownership transfers are explicit. The single exception is the
// shared zero frame, which is referentially shared, read-only, and never
// freed.
//
// The arena is backed by an anonymous mmap on unix so frames have stable
// addresses for the lifetime of the ledger (PA() is meaningful for
// contiguous objects); other platforms fall back to a heap slice.
package page
