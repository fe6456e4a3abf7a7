package vmo

import (
	"context"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/pkg/types"
	"github.com/joshuapare/vmokit/slot"
)

// Pin marks [off, off+length) as owned by hardware: the pages will not be
// freed, migrated by a fork walk, or decommitted until unpinned. Pinning
// forks shared pages in first, so a pinned page always lives in o's own
// slots. Pages with no real content anywhere (never committed, or explicit
// zero markers) fail with ErrNotFound; commit the range first. A pin count
// at its ceiling fails with ErrExhausted. On any error the pages already
// pinned by this call are unpinned again.
func (o *Object) Pin(ctx context.Context, off, length uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	if err := o.checkRange(off, length); err != nil {
		return err
	}
	start := pagemath.PageIndex(off)
	end := start + pagemath.PagesFor(length)

	for idx := start; idx < end; idx++ {
		if err := o.pinOneLocked(ctx, idx); err != nil {
			o.unpinSpanLocked(start, idx)
			return err
		}
	}
	return nil
}

// pinOneLocked forks page idx into o's own slots if needed and raises its
// pin count.
func (o *Object) pinOneLocked(ctx context.Context, idx uint64) error {
	for {
		e := o.slots.Lookup(idx)
		if e != nil && e.State == slot.Page {
			if e.Pins == types.MaxPinCount {
				return types.ErrExhausted
			}
			e.Pins++
			return nil
		}
		if e != nil {
			// Marker: logical zero with no frame to hand to hardware.
			return types.ErrNotFound
		}

		res := o.findOwner(idx)
		switch {
		case res.owner == nil && res.pagerObj != nil:
			if err := o.waitForPager(ctx, res.pagerObj, res.pagerOff); err != nil {
				return err
			}
			if o.closed {
				return types.ErrBadState
			}
			if idx >= o.sizePages {
				return types.ErrOutOfRange
			}
			continue
		case res.owner == nil || res.entry.State != slot.Page:
			return types.ErrNotFound
		case res.owner.kind != Hidden:
			if _, _, _, err := o.installFreshLocked(idx, res.entry.Frame); err != nil {
				return err
			}
		default:
			if _, err := o.forkWalkLocked(idx, res); err != nil {
				return err
			}
		}
	}
}

// Unpin reverses one Pin over the same range. Unpinning a page that is not
// pinned is a caller accounting bug and panics.
func (o *Object) Unpin(off, length uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if err := o.checkRange(off, length); err != nil {
		return err
	}
	start := pagemath.PageIndex(off)
	o.unpinSpanLocked(start, start+pagemath.PagesFor(length))
	return nil
}

func (o *Object) unpinSpanLocked(start, end uint64) {
	for idx := start; idx < end; idx++ {
		e := o.slots.Lookup(idx)
		if e == nil || e.State != slot.Page || e.Pins == 0 {
			panic("vmo: unpin of page that is not pinned")
		}
		e.Pins--
	}
}

// CommitRange makes every page in [off, off+length) resident in o itself,
// allocating zero-filled pages for misses and forking shared content in.
// Blocks on pager round-trips when the range reads through to a pager.
func (o *Object) CommitRange(ctx context.Context, off, length uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	if err := o.checkRange(off, length); err != nil {
		return err
	}
	start := pagemath.PageIndex(off)
	end := start + pagemath.PagesFor(length)

	for idx := start; idx < end; idx++ {
		for {
			_, pagerObj, pagerOff, err := o.getPageLocked(idx, true)
			if err != nil {
				return err
			}
			if pagerObj == nil {
				break
			}
			if err := o.waitForPager(ctx, pagerObj, pagerOff); err != nil {
				return err
			}
			if o.closed {
				return types.ErrBadState
			}
			if idx >= o.sizePages {
				return types.ErrOutOfRange
			}
		}
	}
	return nil
}

// DecommitRange releases the pages backing [off, off+length), returning the
// range to logical zero. Only standalone anonymous objects support it: with
// a parent the freed range would expose ancestor content instead of zero,
// and with a pager or a fixed physical run the pages are not o's to drop.
// Pinned pages in the range fail the whole call with ErrBadState before any
// page is freed.
func (o *Object) DecommitRange(off, length uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	if o.parent != nil || o.pager != nil || o.contiguous {
		return types.ErrUnsupported
	}
	if err := o.checkRange(off, length); err != nil {
		return err
	}
	start := pagemath.PageIndex(off)
	end := start + pagemath.PagesFor(length)

	it := o.slots.Range(start, end)
	for it.Next() {
		if it.Entry().Pinned() {
			return types.ErrBadState
		}
	}

	var freed []*page.Frame
	it = o.slots.Range(start, end)
	for it.Next() {
		if e := it.Entry(); e.State == slot.Page {
			freed = append(freed, e.Frame)
		}
		o.slots.Remove(it.Index())
	}
	if len(freed) > 0 {
		o.family.ledger.Free(freed...)
	}
	o.family.mapping.Invalidate(o.id, off, length)
	return nil
}

// ZeroRange makes [off, off+length) read as zero, preferring to release
// memory over writing zeroes. The range need not be page-aligned: partial
// head and tail pages are zeroed in place through the normal write-fault
// path. Whole pages are freed outright when nothing above would show
// through, replaced by zero markers when an ancestor or pager holds real
// content for the offset, and zero-filled in place when pinned.
func (o *Object) ZeroRange(ctx context.Context, off, length uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	if o.closed {
		return types.ErrBadState
	}
	if length == 0 {
		return nil
	}
	if !pagemath.RangeInBounds(off, length, pagemath.Bytes(o.sizePages)) {
		return types.ErrOutOfRange
	}
	end := off + length

	// Partial head page.
	if !pagemath.IsAligned(off) {
		stop := min(end, pagemath.AlignUp(off))
		if err := o.zeroPartialLocked(ctx, off, stop); err != nil {
			return err
		}
		off = stop
	}
	// Partial tail page.
	if off < end && !pagemath.IsAligned(end) {
		lo := max(off, pagemath.AlignDown(end))
		if err := o.zeroPartialLocked(ctx, lo, end); err != nil {
			return err
		}
		end = lo
	}
	if off >= end {
		return nil
	}

	start := pagemath.PageIndex(off)
	stop := pagemath.PageIndex(end)
	var freed []*page.Frame
	for idx := start; idx < stop; idx++ {
		e := o.slots.Lookup(idx)
		switch {
		case e != nil && e.State == slot.Marker:
			// Already logical zero.
		case e != nil && e.Pinned():
			// Hardware holds the frame; zero the contents in place.
			e.Frame.Zero()
		case e != nil:
			freed = append(freed, e.Frame)
			o.slots.Remove(idx)
			if o.ancestorShowsThroughLocked(idx) {
				o.slots.PutMarker(idx)
			}
		default:
			if o.ancestorShowsThroughLocked(idx) {
				o.slots.PutMarker(idx)
			}
		}
	}
	if len(freed) > 0 {
		o.family.ledger.Free(freed...)
	}
	o.family.mapping.Invalidate(o.id, pagemath.Bytes(start), pagemath.Bytes(stop-start))
	return nil
}

// ancestorShowsThroughLocked reports whether a gap at idx would read as
// non-zero content from an ancestor or a pager, requiring a marker to keep
// the offset zero.
func (o *Object) ancestorShowsThroughLocked(idx uint64) bool {
	res := o.findOwner(idx)
	if res.pagerObj != nil {
		return true
	}
	return res.owner != nil && res.entry.State == slot.Page
}

// zeroPartialLocked zeroes the sub-page byte range [lo, hi) through a write
// fault, so shared content is forked in first.
func (o *Object) zeroPartialLocked(ctx context.Context, lo, hi uint64) error {
	idx := pagemath.PageIndex(lo)
	for {
		fr, pagerObj, pagerOff, err := o.getPageLocked(idx, true)
		if err != nil {
			return err
		}
		if pagerObj == nil {
			data := fr.Data()
			for i := pagemath.PageOffset(lo); i < pagemath.PageOffset(lo)+(hi-lo); i++ {
				data[i] = 0
			}
			return nil
		}
		if err := o.waitForPager(ctx, pagerObj, pagerOff); err != nil {
			return err
		}
		if o.closed {
			return types.ErrBadState
		}
		if idx >= o.sizePages {
			return types.ErrOutOfRange
		}
	}
}
