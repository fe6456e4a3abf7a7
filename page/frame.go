package page

import (
	"github.com/joshuapare/vmokit/internal/pagemath"
)

// Frame is one physical page frame inside a ledger's arena.
//
// A frame is owned by exactly one slot map at a time (or by the free list,
// or by a reservation). The zero frame is the only shared frame and must
// never be written or freed.
type Frame struct {
	ledger *Ledger
	index  uint64 // frame index within the arena
	free   bool   // true while on the free list
}

// Index returns the frame's position within the arena.
func (f *Frame) Index() uint64 { return f.index }

// PA returns the frame's stable physical-analog address: the address of its
// first byte inside the arena. Contiguous objects expose this to callers.
func (f *Frame) PA() uintptr {
	return f.ledger.base + uintptr(f.index)*pagemath.PageSize
}

// Data returns the frame's backing bytes (always PageSize long).
func (f *Frame) Data() []byte {
	off := f.index * pagemath.PageSize
	return f.ledger.arena[off : off+pagemath.PageSize : off+pagemath.PageSize]
}

// Zero clears the frame's contents.
func (f *Frame) Zero() {
	clear(f.Data())
}

// CopyFrom copies src's contents into f. The frames must be distinct.
func (f *Frame) CopyFrom(src *Frame) {
	copy(f.Data(), src.Data())
}
