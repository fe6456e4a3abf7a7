package vmo

import (
	"context"

	"github.com/joshuapare/vmokit/internal/debuglog"
	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/pkg/types"
	"github.com/joshuapare/vmokit/slot"
)

// pathStep records, during the upward owner search, which child edge of a
// hidden ancestor the walk came through. The fork walk consumes the steps in
// reverse. This is per-walk scratch state, valid only while the family lock
// is held; it is never stored on nodes.
type pathStep struct {
	node *Object
	dir  direction
}

// ownerResult is the outcome of the owner search for (o, idx).
type ownerResult struct {
	owner    *Object    // node whose slot resolved the search; nil on a miss
	ownerOff uint64     // offset in owner's space
	entry    *slot.Entry
	path     []pathStep // hidden ancestors traversed, bottom-up
	pagerObj *Object    // non-nil when the miss should go to a pager
	pagerOff uint64
}

// findOwner walks from o through parent links, tracking the cumulative
// offset, until a resident page or marker is found or the walk runs off the
// end of a window.
func (o *Object) findOwner(idx uint64) ownerResult {
	var res ownerResult
	cur, off := o, idx
	for {
		if e := cur.slots.Lookup(off); e != nil {
			res.owner, res.ownerOff, res.entry = cur, off, e
			return res
		}
		if !cur.seesParent(off) {
			// Ran off the window. A pager attached here resolves the
			// miss; otherwise this is logical zero.
			if cur.pager != nil && off < cur.sizePages {
				res.pagerObj, res.pagerOff = cur, off
			}
			return res
		}
		p := cur.parent
		if p.kind == Hidden {
			res.path = append(res.path, pathStep{node: p, dir: p.childDir(cur)})
		}
		off += cur.parentOffset
		cur = p
	}
}

// GetPage resolves the page backing byte offset off, faulting it in for
// write when write is true. It is the fault-resolution primitive the
// address-space layer calls. Read faults never mutate the tree; write
// faults fork the page down to o. Blocks only on pager round-trips.
func (o *Object) GetPage(ctx context.Context, off uint64, write bool) (*page.Frame, error) {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	for {
		fr, pagerObj, pagerOff, err := o.getPageLocked(pagemath.PageIndex(off), write)
		if err != nil {
			return nil, err
		}
		if pagerObj == nil {
			return fr, nil
		}
		if err := o.waitForPager(ctx, pagerObj, pagerOff); err != nil {
			return nil, err
		}
		// The tree may have been resized or re-parented while blocked.
		if o.closed {
			return nil, types.ErrBadState
		}
		if pagemath.PageIndex(off) >= o.sizePages {
			return nil, types.ErrOutOfRange
		}
	}
}

// PhysicalAddress returns the stable physical address backing byte offset
// off. Meaningful for contiguous objects, whose frames never move.
func (o *Object) PhysicalAddress(off uint64) (uintptr, error) {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	idx := pagemath.PageIndex(off)
	if idx >= o.sizePages {
		return 0, types.ErrOutOfRange
	}
	fr, pagerObj, _, err := o.getPageLocked(idx, false)
	if err != nil {
		return 0, err
	}
	if pagerObj != nil {
		return 0, types.ErrNotFound
	}
	return fr.PA() + uintptr(pagemath.PageOffset(off)), nil
}

// getPageLocked resolves page idx of o. When the content must come from a
// pager, it returns (nil, pagerObj, pagerOff, nil) and the caller performs
// the wait outside this function. All other outcomes either return a frame
// or an error with no partial mutation.
func (o *Object) getPageLocked(idx uint64, write bool) (*page.Frame, *Object, uint64, error) {
	if idx >= o.sizePages {
		return nil, nil, 0, types.ErrOutOfRange
	}

	res := o.findOwner(idx)
	zero := o.family.ledger.ZeroFrame()

	if res.owner == nil {
		if res.pagerObj != nil {
			return nil, res.pagerObj, res.pagerOff, nil
		}
		// Pure anonymous miss: logical zero.
		if !write {
			return zero, nil, 0, nil
		}
		return o.installFreshLocked(idx, nil)
	}

	if res.entry.State == slot.Marker {
		// Explicit zero. Reads share the zero frame; a write gets its own
		// zeroed page. A marker in the requesting node itself is replaced
		// in place; a marker in an ancestor is simply shadowed.
		if !write {
			return zero, nil, 0, nil
		}
		return o.installFreshLocked(idx, nil)
	}

	if !write {
		// Pages may be shared read-only across the whole subtree below
		// the owning node.
		return res.entry.Frame, nil, 0, nil
	}

	if res.owner == o {
		return res.entry.Frame, nil, 0, nil
	}

	if res.owner.kind != Hidden {
		// Owner is a directly-parented ancestor (pager clone chain): the
		// content is copied, never migrated.
		return o.installFreshLocked(idx, res.entry.Frame)
	}

	fr, err := o.forkWalkLocked(idx, res)
	return fr, nil, 0, err
}

// installFreshLocked allocates a page for o at idx, copying src when
// non-nil, and notifies the mapping layer so stale translations (including
// read-only zero-page ones) are dropped.
func (o *Object) installFreshLocked(idx uint64, src *page.Frame) (*page.Frame, *Object, uint64, error) {
	fr, err := o.family.ledger.Alloc()
	if err != nil {
		return nil, nil, 0, types.ErrOutOfMemory
	}
	if src != nil {
		fr.CopyFrom(src)
	}
	o.slots.Put(idx, fr)
	o.family.mapping.Invalidate(o.id, pagemath.Bytes(idx), pagemath.PageSize)
	return fr, nil, 0, nil
}

// forkWalkLocked migrates or duplicates the page owned by the hidden
// ancestor res.owner down to o, following the recorded path. Frames come
// from a reservation sized for the worst case, so no step can fail after
// mutation begins.
func (o *Object) forkWalkLocked(idx uint64, res ownerResult) (*page.Frame, error) {
	// path is bottom-up: steps[0] is o's nearest hidden ancestor and the
	// final step is the owner itself.
	steps := res.path
	if len(steps) == 0 || steps[len(steps)-1].node != res.owner {
		panic("vmo: fork walk with no path to owner")
	}

	reservation, err := o.family.ledger.Reserve(uint64(len(steps)))
	if err != nil {
		return nil, types.ErrOutOfMemory
	}
	defer reservation.Close()

	if debuglog.Faults != nil {
		debuglog.Faults.Debug("fork walk",
			"object", uint64(o.id), "page", idx, "depth", len(steps))
	}

	// Track where the original frame ends up for the contiguous fix-up.
	origFrame := res.entry.Frame
	origHolder, origOff := res.owner, res.ownerOff

	cur, curOff, entry := res.owner, res.ownerOff, res.entry
	lastWasCopy := false
	for i := len(steps) - 1; i >= 0; i-- {
		d := steps[i].dir
		child := cur.children[d]
		childOff := curOff - child.parentOffset

		other := cur.children[d.other()]
		otherCanReach := visibleToChild(other, curOff) && !splitToward(entry, d.other())

		if !otherCanReach && !entry.Pinned() {
			// Uni-accessible: move, don't copy. Invisible to everyone but
			// the two nodes involved.
			cur.slots.MoveTo(child.slots, curOff, childOff)
			entry.ClearSplits()
			if cur == origHolder && curOff == origOff {
				origHolder, origOff = child, childOff
			}
			lastWasCopy = false
		} else {
			fr := reservation.Take()
			fr.CopyFrom(entry.Frame)
			newEntry := child.slots.Put(childOff, fr)
			setSplit(entry, d)
			entry = newEntry
			lastWasCopy = true
		}
		cur, curOff = child, childOff
	}

	if lastWasCopy {
		// Only a final fresh copy changes what o's mappings should see;
		// pure moves leave every translation pointing at the same frame.
		o.family.mapping.Invalidate(o.id, pagemath.Bytes(idx), pagemath.PageSize)
	}

	o.fixupContiguousLocked(idx, origFrame, origHolder, origOff)
	return o.slots.Lookup(idx).Frame, nil
}

// fixupContiguousLocked restores the contiguity contract after a fork walk:
// if the faulting object is contiguous but the walk left it holding a fresh
// copy (because the sibling subtree could still reach the original), the
// original frame, whose physical address is the one the object promised, is
// swapped back into the faulting object's slot. Split bits and pins live on
// the slot entries and stay put; only the frame identities exchange.
// Contents of the two frames are already equal, so only the two nodes whose
// slots changed identity need invalidating.
func (o *Object) fixupContiguousLocked(idx uint64, origFrame *page.Frame, origHolder *Object, origOff uint64) {
	if !o.contiguous || origHolder == o {
		return
	}
	target := o.slots.Lookup(idx)
	if target == nil || target.State != slot.Page || target.Frame == origFrame {
		return
	}
	holder := origHolder.slots.Lookup(origOff)
	if holder == nil || holder.Frame != origFrame {
		return
	}
	holder.Frame, target.Frame = target.Frame, holder.Frame
	o.family.mapping.Invalidate(origHolder.id, pagemath.Bytes(origOff), pagemath.PageSize)
	o.family.mapping.Invalidate(o.id, pagemath.Bytes(idx), pagemath.PageSize)
}
