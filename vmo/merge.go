package vmo

import (
	"github.com/joshuapare/vmokit/internal/debuglog"
	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/slot"
)

// mergeLocked collapses the hidden node h into its surviving child after the
// other child was removed. Called from the teardown loop with the removed
// child already unlinked (h has exactly one child left) and its direction
// captured as dRem.
//
// Every resident slot of h is resolved one of three ways:
//   - drop: the survivor side already forked its own copy (split bit toward
//     the survivor is set), cannot see the page through its window, or
//     shadows it with its own slot; the page is garbage now;
//   - move: still needed by the survivor, so ownership transfers with split
//     bits cleared since the fork directions die with h;
//   - markers follow the same rules, minus the frame bookkeeping.
//
// The survivor is then re-homed under h's own parent with the intersection
// of the two visible windows, and attribution ownership is reassigned up
// the ancestor chain so every remaining hidden node is attributed to a
// still-live descendant. Cost is O(resident slots of h) per merge; cascaded
// teardown is driven iteratively by releaseLocked, never by recursion.
func (h *Object) mergeLocked(removed *Object, dRem direction) {
	if h.kind != Hidden || len(h.children) != 1 {
		panic("vmo: merge on node that is not a one-child hidden node")
	}
	s := h.children[0]
	dSur := dRem.other()

	if debuglog.Faults != nil {
		debuglog.Faults.Debug("merge",
			"hidden", uint64(h.id), "removed", uint64(removed.id), "survivor", uint64(s.id))
	}

	var garbage []*page.Frame
	it := h.slots.Range(0, h.sizePages)
	for it.Next() {
		idx, e := it.Index(), it.Entry()

		drop := splitToward(e, dSur) || !visibleToChild(s, idx)
		if !drop && s.slots.Lookup(idx-s.parentOffset) != nil {
			drop = true
		}
		if drop {
			if e.State == slot.Page {
				garbage = append(garbage, e.Frame)
			}
			h.slots.Remove(idx)
			continue
		}
		e.ClearSplits()
		h.slots.MoveTo(s.slots, idx, idx-s.parentOffset)
	}
	if len(garbage) > 0 {
		h.family.ledger.Free(garbage...)
	}

	// Re-home the survivor under h's parent, its window the intersection
	// of the two windows.
	g := h.parent
	h.parent = nil
	newParentOffset := s.parentOffset + h.parentOffset
	if g != nil {
		// Translate h's window into s's space, clamping below zero.
		var tStart, tLen uint64
		if h.windowStart+h.windowLen > s.parentOffset {
			if h.windowStart > s.parentOffset {
				tStart = h.windowStart - s.parentOffset
			}
			tLen = h.windowStart + h.windowLen - s.parentOffset - tStart
		}
		ws, wl := pagemath.Intersect(s.windowStart, s.windowLen, tStart, tLen)

		for i, ch := range g.children {
			if ch == h {
				g.children[i] = s
			}
		}
		s.parent = g
		s.parentOffset = newParentOffset
		if s.kind == Leaf && ws > 0 && wl > 0 {
			// A leaf's window always starts at zero. The prefix the
			// intersection would have clipped previously read as zero
			// (h's window blocked it), so materialize that with markers
			// and keep the window anchored at zero.
			for idx := s.windowStart; idx < ws; idx++ {
				if s.slots.Lookup(idx) == nil {
					s.slots.PutMarker(idx)
				}
			}
			s.windowStart = 0
			s.windowLen = ws + wl
		} else {
			s.windowStart = ws
			s.windowLen = wl
			if s.kind == Leaf {
				s.windowStart = 0
				if wl == 0 {
					s.windowLen = 0
				}
			}
		}
	} else {
		s.parent = nil
		s.parentOffset = 0
		s.windowStart = 0
		s.windowLen = 0
	}

	// Reassign attribution so no remaining hidden ancestor is attributed
	// to the destroyed side.
	if removed.attrOwner != s.attrOwner {
		for a := g; a != nil && a.kind == Hidden; a = a.parent {
			if a.attrOwner == removed.attrOwner {
				a.attrOwner = s.attrOwner
			}
		}
	}

	h.children = nil
	h.refs = 0
	h.closed = true
	h.slots.Clear()
}
