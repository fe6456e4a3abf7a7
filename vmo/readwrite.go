package vmo

import (
	"context"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/pkg/types"
)

// Read copies len(p) bytes starting at byte offset off into p. The range is
// not required to be page-aligned. The call either fills all of p or fails;
// no partial length is reported. Blocks on pager round-trips for offsets
// that read through to a pager.
func (o *Object) Read(ctx context.Context, p []byte, off uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	return o.copyRangeLocked(ctx, p, off, false)
}

// Write copies p into the object starting at byte offset off, faulting
// shared or missing pages in for write as it goes. Like Read, the call is
// all-or-nothing from the caller's point of view, though pages written
// before a failure keep their new contents.
func (o *Object) Write(ctx context.Context, p []byte, off uint64) error {
	o.family.mu.Lock()
	defer o.family.mu.Unlock()
	return o.copyRangeLocked(ctx, p, off, true)
}

func (o *Object) copyRangeLocked(ctx context.Context, p []byte, off uint64, write bool) error {
	if o.closed {
		return types.ErrBadState
	}
	if len(p) == 0 {
		return nil
	}
	length := uint64(len(p))
	if !pagemath.RangeInBounds(off, length, pagemath.Bytes(o.sizePages)) {
		return types.ErrOutOfRange
	}

	done := uint64(0)
	for done < length {
		cur := off + done
		idx := pagemath.PageIndex(cur)
		pageOff := pagemath.PageOffset(cur)
		n := min(length-done, pagemath.PageSize-pageOff)

		fr, pagerObj, pagerOff, err := o.getPageLocked(idx, write)
		if err != nil {
			return err
		}
		if pagerObj != nil {
			if err := o.waitForPager(ctx, pagerObj, pagerOff); err != nil {
				return err
			}
			// Re-validate and retry the same page after the wait.
			if o.closed {
				return types.ErrBadState
			}
			if !pagemath.RangeInBounds(off, length, pagemath.Bytes(o.sizePages)) {
				return types.ErrOutOfRange
			}
			continue
		}

		data := fr.Data()
		if write {
			copy(data[pageOff:pageOff+n], p[done:done+n])
		} else {
			copy(p[done:done+n], data[pageOff:pageOff+n])
		}
		done += n
	}
	return nil
}
