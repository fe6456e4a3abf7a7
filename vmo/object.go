package vmo

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/pkg/types"
	"github.com/joshuapare/vmokit/slot"
)

// Kind distinguishes user-visible leaves from internal fork anchors.
type Kind uint8

const (
	// Leaf is a user-visible memory object.
	Leaf Kind = iota
	// Hidden is an internal copy-on-write fork anchor. Hidden nodes are
	// never returned to callers and always have exactly 0 (dying) or 2
	// children.
	Hidden
)

// direction identifies which child edge of a hidden node is meant.
type direction int

const (
	dirLeft  direction = 0
	dirRight direction = 1
)

func (d direction) other() direction { return 1 - d }

// nextObjectID hands out family-global identities.
var nextObjectID atomic.Uint64

func newObjectID() types.ObjectID {
	return types.ObjectID(nextObjectID.Add(1))
}

// Family is the shared lock domain of one clone tree. Every node reachable
// from another via parent/child edges belongs to the same family, and all
// structural mutation happens under family.mu. Merges and forks reach across
// node boundaries atomically, so per-node locking cannot work here.
type Family struct {
	mu      sync.Mutex
	ledger  *page.Ledger
	mapping Mapping
	waiters map[waitKey][]chan error
}

// Object is one memory object in a clone tree.
type Object struct {
	id     types.ObjectID
	kind   Kind
	family *Family

	sizePages uint64
	slots     *slot.Map

	// parent is a strong edge: a child keeps its parent alive. children
	// of a hidden node are [left, right]; children of a leaf are its
	// directly-parented pager clones.
	parent   *Object
	children []*Object

	// parentOffset maps this node's page o to parent page o+parentOffset.
	// windowStart/windowLen bound, in this node's own page space, the
	// offsets that may see through to the parent. Leaves always have
	// windowStart == 0; hidden nodes can acquire a non-zero start through
	// merge intersections.
	parentOffset uint64
	windowStart  uint64
	windowLen    uint64

	// attrOwner names the descendant this node's pages are attributed to.
	// For a leaf it is the leaf's own id. Invariant: a hidden node's
	// attrOwner always equals the attrOwner of exactly one of its children.
	attrOwner types.ObjectID

	contiguous bool
	resizable  bool
	pager      Pager

	closed bool
	// refs counts strong holders: the client handle (leaves), one per
	// child, and any Retain callers (mappings). The node is destroyed when
	// refs reaches zero.
	refs int
}

// Create builds a standalone root leaf backed by l.
func Create(l *page.Ledger, opts CreateOptions) (*Object, error) {
	if opts.Size == 0 || !pagemath.IsAligned(opts.Size) {
		return nil, types.ErrOutOfRange
	}
	if pagemath.PagesFor(opts.Size) > types.MaxObjectPages {
		return nil, types.ErrOutOfRange
	}
	if opts.Contiguous && (opts.Resizable || opts.Pager != nil) {
		return nil, types.ErrBadState
	}

	mapping := opts.Mapping
	if mapping == nil {
		mapping = NopMapping{}
	}
	f := &Family{
		ledger:  l,
		mapping: mapping,
		waiters: make(map[waitKey][]chan error),
	}
	o := &Object{
		id:         newObjectID(),
		kind:       Leaf,
		family:     f,
		sizePages:  pagemath.PagesFor(opts.Size),
		slots:      slot.NewMap(),
		contiguous: opts.Contiguous,
		resizable:  opts.Resizable,
		pager:      opts.Pager,
		refs:       1,
	}
	o.attrOwner = o.id

	if opts.Contiguous {
		frames, err := l.AllocContiguous(o.sizePages)
		if err != nil {
			return nil, types.ErrOutOfMemory
		}
		for i, fr := range frames {
			o.slots.Put(uint64(i), fr)
		}
	}
	return o, nil
}

// ID returns the object's stable identity.
func (o *Object) ID() types.ObjectID { return o.id }

// Size returns the current logical length in bytes.
func (o *Object) Size() uint64 {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	return pagemath.Bytes(o.sizePages)
}

// IsContiguous reports whether the object's frames keep fixed, consecutive
// physical addresses.
func (o *Object) IsContiguous() bool { return o.contiguous }

// Retain adds a strong reference on behalf of a long-lived holder such as an
// address-space mapping. Every Retain must be paired with a Release.
func (o *Object) Retain() {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.refs <= 0 {
		panic("vmo: retain on destroyed object")
	}
	o.refs++
}

// Release drops a reference taken with Retain.
func (o *Object) Release() {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	o.family.releaseLocked(o)
}

// Close releases the client handle. For a leaf with a hidden parent this
// triggers the merge of that parent into the sibling. Closing twice returns
// ErrBadState.
func (o *Object) Close() error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.kind != Leaf {
		return types.ErrUnsupported
	}
	if o.closed {
		return types.ErrBadState
	}
	o.closed = true
	o.family.releaseLocked(o)
	return nil
}

// releaseLocked drops one reference and destroys the node when none remain.
// Destruction can release a chain of ancestors (a dying pager clone drops
// its parent's last reference, and so on); the chain is walked iteratively
// so teardown never recurses with clone-tree depth.
func (f *Family) releaseLocked(o *Object) {
	for o != nil {
		o.refs--
		if o.refs > 0 {
			return
		}
		o = o.destroyLocked()
	}
}

// destroyLocked tears the node down and returns the parent that lost a
// reference (nil when a hidden-parent merge consumed the edge instead).
func (o *Object) destroyLocked() *Object {
	// Outstanding pins at destruction mean a caller freed a buffer some
	// hardware still owns. The tree cannot be trusted past this point.
	it := o.slots.Range(0, o.sizePages)
	for it.Next() {
		if it.Entry().Pinned() {
			panic("vmo: destroying object with pinned pages")
		}
	}

	o.family.mapping.Invalidate(o.id, 0, pagemath.Bytes(o.sizePages))
	o.family.failWaitersLocked(o, types.ErrBadState)
	if frames := o.slots.Frames(); len(frames) > 0 {
		o.family.ledger.Free(frames...)
	}
	o.slots.Clear()

	p := o.parent
	o.parent = nil
	if p == nil {
		return nil
	}
	if p.kind == Hidden {
		dRem := p.childDir(o)
		p.removeChild(o)
		// p now has exactly one child; merge consumes p entirely,
		// transferring its parent edge to the survivor.
		p.mergeLocked(o, dRem)
		return nil
	}
	p.removeChild(o)
	return p
}

// removeChild unlinks c from o.children, preserving order (hidden nodes rely
// on child positions as directions).
func (o *Object) removeChild(c *Object) {
	for i, ch := range o.children {
		if ch == c {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
	panic("vmo: child not linked to parent")
}

// childDir returns which edge of a hidden node c hangs from.
func (o *Object) childDir(c *Object) direction {
	if o.children[dirLeft] == c {
		return dirLeft
	}
	if o.children[dirRight] == c {
		return dirRight
	}
	panic("vmo: node is not a child of this hidden node")
}

// seesParent reports whether this node's page idx can see through to the
// parent.
func (o *Object) seesParent(idx uint64) bool {
	return o.parent != nil && idx >= o.windowStart && idx < o.windowStart+o.windowLen
}

// visibleToChild reports whether the page at parent offset pOff is inside
// child c's visible window (in c's own space).
func visibleToChild(c *Object, pOff uint64) bool {
	if pOff < c.parentOffset {
		return false
	}
	off := pOff - c.parentOffset
	return off < c.sizePages && off >= c.windowStart && off < c.windowStart+c.windowLen
}

// splitToward reports the split bit of e for the given direction.
func splitToward(e *slot.Entry, d direction) bool {
	if d == dirLeft {
		return e.SplitLeft
	}
	return e.SplitRight
}

// setSplit sets the split bit of e for the given direction. Both bits set on
// a resident page is a corruption invariant, checked here at the only place
// bits are set.
func setSplit(e *slot.Entry, d direction) {
	if d == dirLeft {
		e.SplitLeft = true
	} else {
		e.SplitRight = true
	}
	if e.SplitLeft && e.SplitRight {
		panic("vmo: page forked in both directions is still resident")
	}
}

// checkRange validates a page-aligned byte range against the current size.
func (o *Object) checkRange(off, length uint64) error {
	if !pagemath.IsAligned(off) || !pagemath.IsAligned(length) {
		return types.ErrOutOfRange
	}
	if !pagemath.RangeInBounds(off, length, pagemath.Bytes(o.sizePages)) {
		return types.ErrOutOfRange
	}
	return nil
}
