package vmo

import (
	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/pkg/types"
	"github.com/joshuapare/vmokit/slot"
)

// CreateClone creates a new leaf over [opts.Offset, opts.Offset+opts.Length)
// of o.
//
// In copy-on-write form a hidden fork anchor is spliced in as o's new
// parent: o's pages move into the anchor, o and the new leaf become its two
// children, and every page in the forked range is downgraded to read-only in
// o's mappings so the next write re-faults and forks. The anchor allocation
// happens before any splice, so failure leaves no partial tree mutation.
//
// The non-COW form parents the new leaf directly to o and is legal only over
// pager-backed sources.
func (o *Object) CreateClone(opts CloneOptions) (*Object, error) {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()

	if o.kind != Leaf || o.closed {
		return nil, types.ErrBadState
	}
	if opts.Length == 0 {
		return nil, types.ErrOutOfRange
	}
	if err := o.checkRange(opts.Offset, opts.Length); err != nil {
		return nil, err
	}

	if !opts.CopyOnWrite {
		return o.createPagerChildLocked(opts)
	}
	return o.createCowCloneLocked(opts)
}

func (o *Object) createCowCloneLocked(opts CloneOptions) (*Object, error) {
	// COW over an externally-paged or already-sliced object is not
	// expressible with a fork anchor: the anchor would intercept pager
	// supply and slice windows that were never copy-on-write.
	if o.pager != nil || len(o.children) > 0 {
		return nil, types.ErrUnsupported
	}
	if o.parent != nil && o.parent.kind != Hidden {
		return nil, types.ErrUnsupported
	}
	if o.contiguous {
		// Feasible only over the whole object: a partial-range anchor
		// could strand part of the fixed physical run where the fix-up
		// swap cannot reach it.
		if opts.Offset != 0 || opts.Length != pagemath.Bytes(o.sizePages) {
			return nil, types.ErrUnsupported
		}
		if opts.Resizable {
			return nil, types.ErrUnsupported
		}
	}

	// Pinned pages may not be forked away from their owner.
	it := o.slots.Range(0, o.sizePages)
	for it.Next() {
		if it.Entry().Pinned() {
			return nil, types.ErrBadState
		}
	}

	offPages := pagemath.PageIndex(opts.Offset)
	lenPages := pagemath.PagesFor(opts.Length)

	// Allocation precedes splicing: from here on nothing can fail.
	hidden := &Object{
		id:        newObjectID(),
		kind:      Hidden,
		family:    o.family,
		sizePages: o.sizePages,
		slots:     o.slots,
		attrOwner: o.attrOwner,
	}
	clone := &Object{
		id:        newObjectID(),
		kind:      Leaf,
		family:    o.family,
		sizePages: lenPages,
		slots:     slot.NewMap(),
		resizable: opts.Resizable,
		refs:      1,
	}
	clone.attrOwner = clone.id

	// The anchor takes o's place in the tree: o's old parent edge and
	// visible window move to the anchor unchanged.
	hidden.parent = o.parent
	hidden.parentOffset = o.parentOffset
	hidden.windowStart = o.windowStart
	hidden.windowLen = o.windowLen
	if o.parent != nil {
		for i, ch := range o.parent.children {
			if ch == o {
				o.parent.children[i] = hidden
			}
		}
	}

	// o is re-homed under the anchor with a full window onto its former
	// pages.
	o.parent = hidden
	o.parentOffset = 0
	o.windowStart = 0
	o.windowLen = o.sizePages
	o.slots = slot.NewMap()

	// The clone sees the requested range, clipped to what o could see of
	// its own content (always the whole object, so the intersection is the
	// request itself).
	ws, wl := pagemath.Intersect(offPages, lenPages, 0, hidden.sizePages)
	clone.parent = hidden
	clone.parentOffset = offPages
	clone.windowStart = 0
	clone.windowLen = 0
	if wl > 0 && ws == offPages {
		clone.windowLen = wl
	}

	hidden.children = []*Object{o, clone}
	hidden.refs = 2

	// Writes through existing mappings of o must re-fault and fork.
	o.family.mapping.RemoveWrite(o.id, opts.Offset, opts.Length)
	return clone, nil
}

// createPagerChildLocked builds the private-pager-copy form: the child reads
// through to the source until the pager-backed content is copied in on
// write, with no fork anchor and no page migration in either direction.
func (o *Object) createPagerChildLocked(opts CloneOptions) (*Object, error) {
	if o.pager == nil {
		return nil, types.ErrUnsupported
	}
	clone := &Object{
		id:           newObjectID(),
		kind:         Leaf,
		family:       o.family,
		sizePages:    pagemath.PagesFor(opts.Length),
		slots:        slot.NewMap(),
		resizable:    opts.Resizable,
		parent:       o,
		parentOffset: pagemath.PageIndex(opts.Offset),
		refs:         1,
	}
	clone.attrOwner = clone.id
	clone.windowStart = 0
	clone.windowLen = clone.sizePages
	o.children = append(o.children, clone)
	o.refs++
	return clone, nil
}
