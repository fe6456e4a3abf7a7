package page

import (
	"sync"

	"github.com/joshuapare/vmokit/internal/pagemath"
)

// defaultBaseAddr is the physical address reported for frame 0 when the
// caller does not provide one. The value only has to be stable and
// page-aligned; 1MB mirrors where kernels typically start allocatable RAM.
const defaultBaseAddr = 0x100000

// Options configures a ledger.
type Options struct {
	// MaxPages is the arena capacity in frames. Required.
	MaxPages uint64

	// BaseAddr is the physical address reported for frame 0 via Frame.PA.
	// Zero selects a conservative default. Must be page-aligned.
	BaseAddr uintptr
}

// Stats holds ledger counters for instrumentation and tests.
type Stats struct {
	AllocCalls      int   // Total Alloc() calls that succeeded
	ContiguousCalls int   // Total AllocContiguous() calls that succeeded
	FreeCalls       int   // Total frames returned via Free()
	FailedAllocs    int   // Allocations rejected with ErrOutOfMemory
	InUse           int   // Frames currently allocated
	HighWater       int   // Maximum simultaneous InUse observed
	BytesAllocated  int64 // Total bytes handed out over the ledger's lifetime
}

// Ledger owns a fixed arena of page frames and tracks which are free.
//
// All methods are safe for concurrent use; the ledger has its own lock and
// is deliberately outside any object family's lock domain so unrelated
// families can allocate concurrently.
type Ledger struct {
	mu      sync.Mutex
	arena   []byte
	cleanup func() error
	base    uintptr
	frames  []Frame
	free    []uint64 // LIFO stack of free frame indexes
	zero    *Frame
	stats   Stats

	// Test hook: called (with the frame index) before each successful
	// allocation. Nil in production.
	onAlloc func(uint64)
}

// New creates a ledger with capacity for opts.MaxPages frames. One frame is
// consumed by the shared zero frame.
func New(opts Options) (*Ledger, error) {
	if opts.MaxPages < 2 {
		return nil, ErrBadSize
	}
	base := opts.BaseAddr
	if base == 0 {
		base = defaultBaseAddr
	}
	if !pagemath.IsAligned(uint64(base)) {
		return nil, ErrBadSize
	}

	arena, cleanup, err := mapArena(int(pagemath.Bytes(opts.MaxPages)))
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		arena:   arena,
		cleanup: cleanup,
		base:    base,
		frames:  make([]Frame, opts.MaxPages),
		free:    make([]uint64, 0, opts.MaxPages),
	}
	for i := range l.frames {
		l.frames[i] = Frame{ledger: l, index: uint64(i), free: true}
	}
	// Frame 0 is the shared zero frame. It is never on the free list and
	// never handed to a slot map as an owned page.
	l.frames[0].free = false
	l.zero = &l.frames[0]
	for i := uint64(len(l.frames)) - 1; i >= 1; i-- {
		l.free = append(l.free, i)
	}
	return l, nil
}

// Close unmaps the arena. All frames become invalid.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arena = nil
	if l.cleanup == nil {
		return nil
	}
	err := l.cleanup()
	l.cleanup = nil
	return err
}

// ZeroFrame returns the shared read-only zero frame. It is referentially
// shared across every object in every family and must never be mutated.
func (l *Ledger) ZeroFrame() *Frame { return l.zero }

// Alloc returns a zeroed frame, or ErrOutOfMemory when the arena is
// exhausted.
func (l *Ledger) Alloc() (*Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocLocked()
}

func (l *Ledger) allocLocked() (*Frame, error) {
	if len(l.free) == 0 {
		l.stats.FailedAllocs++
		return nil, ErrOutOfMemory
	}
	idx := l.free[len(l.free)-1]
	l.free = l.free[:len(l.free)-1]
	l.stats.AllocCalls++
	return l.takeLocked(idx), nil
}

// takeLocked marks frame idx allocated, zeroes it, and updates stats. The
// frame must currently be free and must not be on the free list (the caller
// removes it first).
func (l *Ledger) takeLocked(idx uint64) *Frame {
	f := &l.frames[idx]
	f.free = false
	f.Zero()
	if l.onAlloc != nil {
		l.onAlloc(idx)
	}
	l.stats.InUse++
	if l.stats.InUse > l.stats.HighWater {
		l.stats.HighWater = l.stats.InUse
	}
	l.stats.BytesAllocated += pagemath.PageSize
	return f
}

// AllocContiguous returns n physically consecutive zeroed frames using
// first-fit over the frame array, or ErrOutOfMemory when no run of length n
// is free. Either all n frames are allocated or none are.
func (l *Ledger) AllocContiguous(n uint64) ([]*Frame, error) {
	if n == 0 || n > uint64(len(l.frames)) {
		return nil, ErrBadSize
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	start, ok := l.findRunLocked(n)
	if !ok {
		l.stats.FailedAllocs++
		return nil, ErrOutOfMemory
	}
	l.removeFromFreeListLocked(start, n)
	out := make([]*Frame, n)
	for i := uint64(0); i < n; i++ {
		out[i] = l.takeLocked(start + i)
	}
	l.stats.ContiguousCalls++
	return out, nil
}

// findRunLocked scans for n consecutive free frames, skipping frame 0.
func (l *Ledger) findRunLocked(n uint64) (uint64, bool) {
	run := uint64(0)
	for i := uint64(1); i < uint64(len(l.frames)); i++ {
		if l.frames[i].free {
			run++
			if run == n {
				return i - n + 1, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// removeFromFreeListLocked deletes indexes [start, start+n) from the free
// stack. O(len(free)) but contiguous allocation is a rare setup-time path.
func (l *Ledger) removeFromFreeListLocked(start, n uint64) {
	kept := l.free[:0]
	for _, idx := range l.free {
		if idx >= start && idx < start+n {
			continue
		}
		kept = append(kept, idx)
	}
	l.free = kept
}

// Free returns frames to the ledger. Passing the zero frame or a frame from
// another ledger panics: both indicate the caller's bookkeeping is already
// corrupt, which is not a recoverable condition.
func (l *Ledger) Free(frames ...*Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range frames {
		if f == nil {
			continue
		}
		if f.ledger != l {
			panic(ErrForeignFrame)
		}
		if f == l.zero {
			panic("page: freeing the shared zero frame")
		}
		if f.free {
			panic(ErrDoubleFree)
		}
		f.free = true
		l.free = append(l.free, f.index)
		l.stats.FreeCalls++
		l.stats.InUse--
	}
}

// FreePages returns how many frames are currently free.
func (l *Ledger) FreePages() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.free))
}

// Stats returns a snapshot of the ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
