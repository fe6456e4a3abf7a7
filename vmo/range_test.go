package vmo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vmokit/pkg/types"
)

func TestPin_RequiresContent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 2)
	defer o.Close()

	// Nothing committed yet.
	assert.ErrorIs(t, o.Pin(ctx, 0, pageSize), types.ErrNotFound)

	require.NoError(t, o.CommitRange(ctx, 0, pageSize))
	require.NoError(t, o.Pin(ctx, 0, pageSize))
	require.NoError(t, o.Unpin(0, pageSize))
}

func TestPin_UnwindsOnFailure(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 3)
	defer o.Close()

	// Pages 0 and 1 committed, page 2 not: pinning all three fails and
	// must leave the first two unpinned.
	require.NoError(t, o.CommitRange(ctx, 0, 2*pageSize))
	assert.ErrorIs(t, o.Pin(ctx, 0, 3*pageSize), types.ErrNotFound)

	// A decommit would trip on any leftover pin.
	require.NoError(t, o.DecommitRange(0, 2*pageSize))
	requireVerify(t, o)
}

func TestPin_ForksSharedPageIn(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 2)
	defer o.Close()
	fillPage(t, o, 0, 5)

	clone, err := o.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	// Pinning through the clone must not hand out the shared frame.
	require.NoError(t, clone.Pin(ctx, 0, pageSize))
	assert.Equal(t, 2, l.Stats().InUse, "pin forked a private copy")

	fillPage(t, o, 0, 6)
	assert.Equal(t, byte(5), readPageByte(t, clone, 0))
	assert.Equal(t, byte(6), readPageByte(t, o, 0))

	require.NoError(t, clone.Unpin(0, pageSize))
	requireVerify(t, o)
}

func TestPin_BlocksForkMigration(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 2)
	defer o.Close()
	fillPage(t, o, 0, 5)
	require.NoError(t, o.Pin(ctx, 0, pageSize))
	defer o.Unpin(0, pageSize)

	// A pinned source refuses the splice outright.
	_, err := o.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	assert.ErrorIs(t, err, types.ErrBadState)
}

func TestUnpin_NotPinnedPanics(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 1)
	defer o.Close()
	require.NoError(t, o.CommitRange(ctx, 0, pageSize))

	assert.Panics(t, func() { _ = o.Unpin(0, pageSize) })
}

func TestPin_ZeroRangePinnedPageZeroesInPlace(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 1)
	defer o.Close()
	fillPage(t, o, 0, 0xEE)
	require.NoError(t, o.Pin(ctx, 0, pageSize))

	addr, err := o.PhysicalAddress(0)
	require.NoError(t, err)

	require.NoError(t, o.ZeroRange(ctx, 0, pageSize))
	assert.Equal(t, byte(0), readPageByte(t, o, 0))

	// The frame was zeroed where it sits, not replaced.
	after, err := o.PhysicalAddress(0)
	require.NoError(t, err)
	assert.Equal(t, addr, after)
	assert.Equal(t, 1, l.Stats().InUse)

	require.NoError(t, o.Unpin(0, pageSize))
}

func TestCommitRange_OutOfMemory(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 3)
	o := newAnon(t, l, 4)
	defer o.Close()

	assert.ErrorIs(t, o.CommitRange(ctx, 0, 4*pageSize), types.ErrOutOfMemory)
	assert.Equal(t, 2, l.Stats().InUse, "pages before exhaustion stay committed")
}
