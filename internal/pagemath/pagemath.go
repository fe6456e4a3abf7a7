// Package pagemath provides page-size constants and alignment arithmetic
// shared by the ledger, slot map, and memory-object core.
//
// All object offsets and lengths at the public API boundary are byte
// quantities and must be page-aligned; internal bookkeeping is in page
// indexes. The helpers here are the single place the conversion lives.
package pagemath

// PageSize is the fixed physical frame size in bytes.
const PageSize = 4096

// PageShift satisfies PageSize == 1 << PageShift.
const PageShift = 12

// pageMask selects the intra-page byte offset.
const pageMask = PageSize - 1

// IsAligned reports whether n sits on a page boundary.
//
// Example:
//
//	IsAligned(0)    = true
//	IsAligned(4096) = true
//	IsAligned(4097) = false
func IsAligned(n uint64) bool {
	return n&pageMask == 0
}

// AlignDown returns n rounded down to the previous page boundary.
func AlignDown(n uint64) uint64 {
	return n &^ uint64(pageMask)
}

// AlignUp returns n rounded up to the next page boundary.
//
// Example:
//
//	AlignUp(1)    = 4096
//	AlignUp(4096) = 4096
//	AlignUp(4097) = 8192
func AlignUp(n uint64) uint64 {
	return (n + pageMask) &^ uint64(pageMask)
}

// PagesFor returns the number of pages needed to cover n bytes.
func PagesFor(n uint64) uint64 {
	return AlignUp(n) >> PageShift
}

// PageIndex returns the page index containing byte offset n.
func PageIndex(n uint64) uint64 {
	return n >> PageShift
}

// PageOffset returns the byte offset of n within its page.
func PageOffset(n uint64) uint64 {
	return n & pageMask
}

// Bytes converts a page count to a byte count.
func Bytes(pages uint64) uint64 {
	return pages << PageShift
}

// RangeInBounds reports whether [off, off+length) fits inside [0, size).
// A zero-length range at off == size is in bounds.
func RangeInBounds(off, length, size uint64) bool {
	if off > size {
		return false
	}
	return length <= size-off
}

// Intersect clips [aStart, aStart+aLen) to [bStart, bStart+bLen) and returns
// the overlapping range. Returns (0, 0) when the ranges are disjoint.
func Intersect(aStart, aLen, bStart, bLen uint64) (start, length uint64) {
	aEnd := aStart + aLen
	bEnd := bStart + bLen
	if aStart < bStart {
		aStart = bStart
	}
	if aEnd > bEnd {
		aEnd = bEnd
	}
	if aStart >= aEnd {
		return 0, 0
	}
	return aStart, aEnd - aStart
}
