package page

// Reservation holds frames pre-allocated for a multi-step mutation. A fork
// walk reserves its worst-case frame count up front, so that once tree
// mutation begins, no individual step can fail on allocation and leave a
// page resident in two places or a split bit without a matching fork.
//
// A reservation is not safe for concurrent use; it belongs to one operation
// under one family lock.
type Reservation struct {
	ledger *Ledger
	frames []*Frame
}

// Reserve pre-allocates n zeroed frames. On failure nothing is held.
func (l *Ledger) Reserve(n uint64) (*Reservation, error) {
	if n == 0 {
		return &Reservation{ledger: l}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if uint64(len(l.free)) < n {
		l.stats.FailedAllocs++
		return nil, ErrOutOfMemory
	}
	r := &Reservation{ledger: l, frames: make([]*Frame, 0, n)}
	for i := uint64(0); i < n; i++ {
		f, err := l.allocLocked()
		if err != nil {
			// Cannot happen after the length check; keep the unwind anyway.
			for _, held := range r.frames {
				held.free = true
				l.free = append(l.free, held.index)
				l.stats.InUse--
			}
			return nil, err
		}
		r.frames = append(r.frames, f)
	}
	return r, nil
}

// Take removes one frame from the reservation. Taking from an empty
// reservation panics: the caller sized the reservation wrong, and continuing
// would reintroduce mid-mutation allocation failure.
func (r *Reservation) Take() *Frame {
	if len(r.frames) == 0 {
		panic("page: reservation underflow")
	}
	f := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]
	return f
}

// Unused returns how many reserved frames remain.
func (r *Reservation) Unused() int { return len(r.frames) }

// Close returns any unused frames to the ledger. Safe to call multiple
// times; always call it (typically deferred) so aborted operations do not
// leak frames.
func (r *Reservation) Close() {
	if len(r.frames) == 0 {
		return
	}
	r.ledger.Free(r.frames...)
	r.frames = nil
}
