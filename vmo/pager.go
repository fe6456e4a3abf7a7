package vmo

import (
	"context"
	"sync"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/pkg/types"
)

// Pager is the backing-store collaborator for externally-paged objects. The
// engine calls RequestPage on an unresolved read/write miss; the pager later
// inserts the page itself via SupplyPages, which wakes the waiter. The
// engine never holds the family lock across RequestPage, so a pager may
// supply synchronously from inside the call.
type Pager interface {
	RequestPage(id types.ObjectID, pageIdx uint64)
}

// waitKey identifies one outstanding page wait.
type waitKey struct {
	id  types.ObjectID
	idx uint64
}

// registerWaiterLocked adds a waiter channel for (o, idx).
func (f *Family) registerWaiterLocked(o *Object, idx uint64) chan error {
	ch := make(chan error, 1)
	k := waitKey{id: o.id, idx: idx}
	f.waiters[k] = append(f.waiters[k], ch)
	return ch
}

// notifySuppliedLocked wakes every waiter for pages in [start, end) of o.
// Called after pages become resident through SupplyPages or a bulk resize.
func (f *Family) notifySuppliedLocked(o *Object, start, end uint64) {
	for idx := start; idx < end; idx++ {
		k := waitKey{id: o.id, idx: idx}
		for _, ch := range f.waiters[k] {
			ch <- nil
		}
		delete(f.waiters, k)
	}
}

// failWaitersLocked resolves every waiter on o with err. Used at teardown
// and when a resize moves the page past EOF: the wait must resolve with an
// error rather than touch freed state.
func (f *Family) failWaitersLocked(o *Object, err error) {
	for k, chans := range f.waiters {
		if k.id != o.id {
			continue
		}
		for _, ch := range chans {
			ch <- err
		}
		delete(f.waiters, k)
	}
}

// failWaitersBeyondLocked resolves waiters at or past page limit with err.
func (f *Family) failWaitersBeyondLocked(o *Object, limit uint64, err error) {
	for k, chans := range f.waiters {
		if k.id != o.id || k.idx < limit {
			continue
		}
		for _, ch := range chans {
			ch <- err
		}
		delete(f.waiters, k)
	}
}

// SupplyPages copies content into fresh frames at byte offset off and wakes
// waiters. Called by the pager in response to RequestPage, and by callers
// bulk-loading a pager-backed object. off must be page-aligned; content is
// padded to a whole number of pages with zeroes. Slots that are already
// resident are left untouched (the racing fault won).
func (o *Object) SupplyPages(off uint64, content []byte) error {
	if o.pager == nil {
		return types.ErrUnsupported
	}
	if !pagemath.IsAligned(off) {
		return types.ErrOutOfRange
	}

	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	start := pagemath.PageIndex(off)
	n := pagemath.PagesFor(uint64(len(content)))
	if !pagemath.RangeInBounds(start, n, o.sizePages) {
		return types.ErrOutOfRange
	}

	for i := uint64(0); i < n; i++ {
		if o.slots.Lookup(start+i) != nil {
			continue
		}
		fr, err := o.family.ledger.Alloc()
		if err != nil {
			return types.ErrOutOfMemory
		}
		lo := i * pagemath.PageSize
		hi := min(uint64(len(content)), lo+pagemath.PageSize)
		if lo < hi {
			copy(fr.Data(), content[lo:hi])
		}
		o.slots.Put(start+i, fr)
	}
	o.family.notifySuppliedLocked(o, start, start+n)
	return nil
}

// waitForPager blocks until the pager supplies page idx of target, the
// context is cancelled, or target is torn down. Must be called with the
// family lock held; the lock is released around the wait and held again on
// return. The caller must re-validate everything it knew before the call.
func (o *Object) waitForPager(ctx context.Context, target *Object, idx uint64) error {
	ch := o.family.registerWaiterLocked(target, idx)
	pager := target.pager
	id := target.id

	o.family.mu.Unlock()
	pager.RequestPage(id, idx)
	var err error
	select {
	case err = <-ch:
	case <-ctx.Done():
		err = ctx.Err()
	}
	o.family.mu.Lock()
	return err
}

// InMemoryPager is a reference Pager backed by a byte slice. It supplies
// pages synchronously by default; Delay can hold requests until ReleaseAll
// for tests that need an in-flight wait.
type InMemoryPager struct {
	mu      sync.Mutex
	data    []byte
	target  *Object
	delay   bool
	pending []uint64

	// Requests counts RequestPage calls, for tests.
	Requests int
}

// NewInMemoryPager returns a pager serving content from data.
func NewInMemoryPager(data []byte) *InMemoryPager {
	return &InMemoryPager{data: data}
}

// Bind attaches the pager to the object it serves. Must be called before
// the first fault.
func (p *InMemoryPager) Bind(o *Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = o
}

// Delay makes subsequent requests queue until ReleaseAll.
func (p *InMemoryPager) Delay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = true
}

func (p *InMemoryPager) RequestPage(_ types.ObjectID, pageIdx uint64) {
	p.mu.Lock()
	p.Requests++
	if p.delay {
		p.pending = append(p.pending, pageIdx)
		p.mu.Unlock()
		return
	}
	target := p.target
	p.mu.Unlock()
	p.supply(target, pageIdx)
}

// ReleaseAll supplies every queued request.
func (p *InMemoryPager) ReleaseAll() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	target := p.target
	p.mu.Unlock()
	for _, idx := range pending {
		p.supply(target, idx)
	}
}

func (p *InMemoryPager) supply(target *Object, idx uint64) {
	if target == nil {
		return
	}
	lo := idx * pagemath.PageSize
	p.mu.Lock()
	var chunk []byte
	if lo < uint64(len(p.data)) {
		hi := min(uint64(len(p.data)), lo+pagemath.PageSize)
		chunk = append([]byte(nil), p.data[lo:hi]...)
	} else {
		chunk = make([]byte, pagemath.PageSize)
	}
	p.mu.Unlock()
	_ = target.SupplyPages(lo, chunk)
}
