package vmo

import (
	"fmt"

	"github.com/joshuapare/vmokit/slot"
)

// ValidationError reports one violated tree invariant.
type ValidationError struct {
	Type    string
	Message string
	Object  uint64
	Page    int64
}

func (e *ValidationError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("%s on object %d page %d: %s", e.Type, e.Object, e.Page, e.Message)
	}
	return fmt.Sprintf("%s on object %d: %s", e.Type, e.Object, e.Message)
}

// Verify checks every structural invariant of the clone tree o belongs to.
// Returns the first error encountered, or nil if all checks pass. Used in
// tests after every mutation; callers in production code should not need it.
func (o *Object) Verify() error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()

	root := o
	for root.parent != nil {
		root = root.parent
	}

	frames := make(map[uintptr]uint64)
	return verifyNodeLocked(root, frames)
}

func verifyNodeLocked(o *Object, frames map[uintptr]uint64) error {
	if err := verifyShape(o); err != nil {
		return err
	}
	if err := verifyWindows(o); err != nil {
		return err
	}
	if err := verifyAttribution(o); err != nil {
		return err
	}
	if err := verifySlots(o, frames); err != nil {
		return err
	}
	for _, c := range o.children {
		if c.parent != o {
			return &ValidationError{
				Type:    "TreeShape",
				Message: fmt.Sprintf("child %d does not point back to parent", c.id),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
		if err := verifyNodeLocked(c, frames); err != nil {
			return err
		}
	}
	return nil
}

// verifyShape checks child counts and reference counts.
func verifyShape(o *Object) error {
	switch o.kind {
	case Hidden:
		if len(o.children) != 2 {
			return &ValidationError{
				Type:    "TreeShape",
				Message: fmt.Sprintf("hidden node has %d children, want 2", len(o.children)),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
		if o.refs != 2 {
			return &ValidationError{
				Type:    "RefCount",
				Message: fmt.Sprintf("hidden node refs=%d, want 2", o.refs),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
		if o.closed {
			return &ValidationError{
				Type:    "TreeShape",
				Message: "closed hidden node still linked",
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
	case Leaf:
		if o.refs < 1 {
			return &ValidationError{
				Type:    "RefCount",
				Message: fmt.Sprintf("live leaf refs=%d", o.refs),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
	}
	return nil
}

// verifyWindows checks the visible-window bounds on the parent edge.
func verifyWindows(o *Object) error {
	if o.windowStart+o.windowLen > o.sizePages {
		return &ValidationError{
			Type:    "Window",
			Message: fmt.Sprintf("window [%d,+%d) exceeds size %d", o.windowStart, o.windowLen, o.sizePages),
			Object:  uint64(o.id),
			Page:    -1,
		}
	}
	if o.kind == Leaf && o.windowStart != 0 {
		return &ValidationError{
			Type:    "Window",
			Message: fmt.Sprintf("leaf window starts at %d, want 0", o.windowStart),
			Object:  uint64(o.id),
			Page:    -1,
		}
	}
	if o.parent != nil && o.windowLen > 0 {
		visEnd := o.parentOffset + o.windowStart + o.windowLen
		if visEnd > o.parent.sizePages {
			return &ValidationError{
				Type:    "Window",
				Message: fmt.Sprintf("window sees parent pages up to %d, parent size %d", visEnd, o.parent.sizePages),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
	}
	return nil
}

// verifyAttribution checks that a hidden node's attribution owner matches
// exactly one child's.
func verifyAttribution(o *Object) error {
	switch o.kind {
	case Leaf:
		if o.attrOwner != o.id {
			return &ValidationError{
				Type:    "Attribution",
				Message: fmt.Sprintf("leaf attributed to %d", o.attrOwner),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
	case Hidden:
		matches := 0
		for _, c := range o.children {
			if c.attrOwner == o.attrOwner {
				matches++
			}
		}
		if matches != 1 {
			return &ValidationError{
				Type:    "Attribution",
				Message: fmt.Sprintf("attribution owner %d matches %d children, want 1", o.attrOwner, matches),
				Object:  uint64(o.id),
				Page:    -1,
			}
		}
	}
	return nil
}

// verifySlots checks per-page invariants: in-bounds indices, split bits only
// on hidden nodes and never both at once, pins only on real pages, and every
// frame owned by exactly one slot across the whole tree.
func verifySlots(o *Object, frames map[uintptr]uint64) error {
	it := o.slots.Range(0, ^uint64(0))
	for it.Next() {
		idx, e := it.Index(), it.Entry()
		if idx >= o.sizePages {
			return &ValidationError{
				Type:    "SlotBounds",
				Message: fmt.Sprintf("slot past object size %d", o.sizePages),
				Object:  uint64(o.id),
				Page:    int64(idx),
			}
		}
		if e.SplitLeft && e.SplitRight {
			return &ValidationError{
				Type:    "SplitBits",
				Message: "page forked in both directions is still resident",
				Object:  uint64(o.id),
				Page:    int64(idx),
			}
		}
		if (e.SplitLeft || e.SplitRight) && o.kind != Hidden {
			return &ValidationError{
				Type:    "SplitBits",
				Message: "split bit on a non-hidden node",
				Object:  uint64(o.id),
				Page:    int64(idx),
			}
		}
		if e.Pins > 0 && e.State != slot.Page {
			return &ValidationError{
				Type:    "PinState",
				Message: "pin count on a slot with no frame",
				Object:  uint64(o.id),
				Page:    int64(idx),
			}
		}
		if e.State == slot.Page {
			if e.Frame == nil {
				return &ValidationError{
					Type:    "FrameOwnership",
					Message: "page slot with nil frame",
					Object:  uint64(o.id),
					Page:    int64(idx),
				}
			}
			pa := e.Frame.PA()
			if prev, dup := frames[pa]; dup {
				return &ValidationError{
					Type:    "FrameOwnership",
					Message: fmt.Sprintf("frame also owned by object %d", prev),
					Object:  uint64(o.id),
					Page:    int64(idx),
				}
			}
			frames[pa] = uint64(o.id)
		}
	}
	return nil
}
