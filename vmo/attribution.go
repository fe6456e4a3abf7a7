package vmo

import (
	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/slot"
)

// AttributedPagesInRange counts the resident pages within [off, off+length)
// that this object is accountable for: its own resident pages plus the
// pages held by hidden ancestors whose attribution resolves to this object.
// Never mutates state.
//
// A page resident in a hidden ancestor is attributed to exactly one
// descendant. At every hidden level the page passes through, one direction
// is "chosen": the only side that can still reach the page, or, when both
// sides can, the side whose child carries the level's attribution owner.
// The page counts for this object iff the chosen direction matches the path
// down to it at every level. The climb is a plain iterative loop, so stack
// use stays O(1) regardless of tree depth, at the cost of re-walking the
// chain per gap page.
func (o *Object) AttributedPagesInRange(off, length uint64) (uint64, error) {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()

	if err := o.checkRange(off, length); err != nil {
		return 0, err
	}
	start := pagemath.PageIndex(off)
	end := start + pagemath.PagesFor(length)

	// Own resident pages are always on o's bill. Ancestor pages are climbed
	// for at every offset, even ones o shadows with its own page or a
	// marker: the shadowed ancestor page still exists and must land on
	// exactly one bill.
	count := o.slots.Resident(start, end)
	for idx := start; idx < end; idx++ {
		count += o.attributedFromAncestorsLocked(idx)
	}
	return count, nil
}

// attributedFromAncestorsLocked reports (0 or 1) whether the page covering
// o's page index idx, resident somewhere in the hidden ancestor chain, is
// attributed to o.
func (o *Object) attributedFromAncestorsLocked(idx uint64) uint64 {
	cur, off := o, idx
	for {
		// Attribution stops at non-hidden boundaries: a gap under a
		// directly-parented (pager slice) edge owns no pages here.
		p := cur.parent
		if p == nil || p.kind != Hidden {
			return 0
		}
		if !cur.seesParent(off) {
			return 0
		}
		pOff := off + cur.parentOffset
		d := p.childDir(cur)

		if e := p.slots.Lookup(pOff); e != nil && e.State == slot.Page {
			if chosenDirAtOwner(p, e, pOff, d) == d {
				return 1
			}
			return 0
		}
		// Pass-through level: the page (if any) lives further up. A gap
		// has no split bits and a marker never acquires them, so
		// reachability of the sibling side is purely a window question.
		if chosenDirPassThrough(p, pOff, d) != d {
			return 0
		}
		cur, off = p, pOff
	}
}

// chosenDirAtOwner picks which child direction the page resident at (p,
// pOff) is attributed toward, as seen from a climber that arrived through
// direction d.
func chosenDirAtOwner(p *Object, e *slot.Entry, pOff uint64, d direction) direction {
	if splitToward(e, d) {
		// Already forked toward our side; the original belongs to the
		// other subtree now.
		return d.other()
	}
	other := d.other()
	otherReach := visibleToChild(p.children[other], pOff) && !splitToward(e, other)
	if !otherReach {
		return d
	}
	return p.attrSide()
}

// chosenDirPassThrough picks the attributed direction at a hidden level the
// page merely passes through.
func chosenDirPassThrough(p *Object, pOff uint64, d direction) direction {
	if !visibleToChild(p.children[d.other()], pOff) {
		return d
	}
	return p.attrSide()
}

// attrSide returns the direction of the child carrying p's attribution
// owner. Clone and merge maintain the invariant that exactly one child
// matches.
func (p *Object) attrSide() direction {
	if p.children[dirLeft].attrOwner == p.attrOwner {
		return dirLeft
	}
	return dirRight
}
