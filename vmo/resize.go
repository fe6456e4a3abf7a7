package vmo

import (
	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/pkg/types"
	"github.com/joshuapare/vmokit/slot"
)

// Resize changes the object's logical length to newSize bytes. Only objects
// created resizable support it. Growing exposes fresh logical-zero (or
// pager-supplied) range; shrinking frees the dropped tail, clips every
// window that could still see it, and fails outstanding pager waits past
// the new end with ErrOutOfRange. Pinned pages in the dropped tail fail the
// whole call with ErrBadState.
func (o *Object) Resize(newSize uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	if o.kind != Leaf || !o.resizable {
		return types.ErrUnsupported
	}
	if !pagemath.IsAligned(newSize) || pagemath.PagesFor(newSize) > types.MaxObjectPages {
		return types.ErrOutOfRange
	}

	newPages := pagemath.PagesFor(newSize)
	oldPages := o.sizePages
	if newPages >= oldPages {
		o.sizePages = newPages
		return nil
	}

	it := o.slots.Range(newPages, oldPages)
	for it.Next() {
		if it.Entry().Pinned() {
			return types.ErrBadState
		}
	}

	var freed []*page.Frame
	it = o.slots.Range(newPages, oldPages)
	for it.Next() {
		if e := it.Entry(); e.State == slot.Page {
			freed = append(freed, e.Frame)
		}
		o.slots.Remove(it.Index())
	}
	if len(freed) > 0 {
		o.family.ledger.Free(freed...)
	}
	o.sizePages = newPages

	// The object's own view of its parent never extends, but it must not
	// extend past the new end either.
	if o.windowStart >= newPages {
		o.windowLen = 0
	} else if o.windowStart+o.windowLen > newPages {
		o.windowLen = newPages - o.windowStart
	}

	// Children window into this object's page space; clip anything that
	// would now read past the end. Grandchildren are bounded transitively
	// since every lookup re-checks the window at each level.
	for _, c := range o.children {
		visEnd := c.parentOffset + c.windowStart + c.windowLen
		if visEnd <= newPages {
			continue
		}
		base := c.parentOffset + c.windowStart
		if base >= newPages {
			c.windowLen = 0
		} else {
			c.windowLen = newPages - base
		}
	}

	o.family.mapping.Invalidate(o.id, newSize, pagemath.Bytes(oldPages-newPages))
	o.family.failWaitersBeyondLocked(o, newPages, types.ErrOutOfRange)
	return nil
}
