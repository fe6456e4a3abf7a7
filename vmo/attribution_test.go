package vmo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attributedTotal sums attribution over an object's whole range.
func attributedTotal(t *testing.T, o *Object) uint64 {
	t.Helper()
	n, err := o.AttributedPagesInRange(0, o.Size())
	require.NoError(t, err)
	return n
}

func TestAttribution_SharedPagesChargedOnce(t *testing.T) {
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 3)
	defer o.Close()
	fillPage(t, o, 0, 1)
	fillPage(t, o, 1, 2)
	fillPage(t, o, 2, 3)

	clone, err := o.CreateClone(CloneOptions{Length: 3 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	// All three pages moved into the anchor but stay charged to the
	// original; the clone is charged nothing until it writes.
	assert.Equal(t, uint64(3), attributedTotal(t, o))
	assert.Equal(t, uint64(0), attributedTotal(t, clone))
}

func TestAttribution_Conservation(t *testing.T) {
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 3)
	defer o.Close()
	fillPage(t, o, 0, 1)
	fillPage(t, o, 1, 2)
	fillPage(t, o, 2, 3)

	clone, err := o.CreateClone(CloneOptions{Length: 3 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	// Fork page 0 down to the clone and page 2 down to the original. The
	// anchor still holds all three; each one is reachable from exactly one
	// side or tie-broken to the attribution owner.
	fillPage(t, clone, 0, 9)
	fillPage(t, o, 2, 8)
	requireVerify(t, o)

	total := attributedTotal(t, o) + attributedTotal(t, clone)
	assert.Equal(t, uint64(l.Stats().InUse), total, "every frame charged to exactly one object")

	// The anchor's page 2 is unreachable from the original now, so it
	// lands on the clone's bill.
	assert.Equal(t, uint64(3), attributedTotal(t, o))
	assert.Equal(t, uint64(2), attributedTotal(t, clone))
}

func TestAttribution_ConservationDeepChain(t *testing.T) {
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 3)
	defer o.Close()
	fillPage(t, o, 0, 1)
	fillPage(t, o, 1, 2)
	fillPage(t, o, 2, 3)

	c1, err := o.CreateClone(CloneOptions{Length: 3 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer c1.Close()
	c2, err := c1.CreateClone(CloneOptions{Length: 3 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer c2.Close()

	// Scattered forking writes across three generations leave pages at
	// every level of the two-anchor chain, so counting for the middle leaf
	// has to tie-break at a level the page merely passes through.
	fillPage(t, c2, 0, 90)
	fillPage(t, c1, 1, 91)
	fillPage(t, o, 2, 92)
	fillPage(t, c2, 1, 93)
	requireVerify(t, o)

	total := attributedTotal(t, o) + attributedTotal(t, c1) + attributedTotal(t, c2)
	assert.Equal(t, uint64(l.Stats().InUse), total, "every frame charged to exactly one leaf")
}

func TestAttribution_AfterMerge(t *testing.T) {
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 2)
	fillPage(t, o, 0, 1)
	fillPage(t, o, 1, 2)

	clone, err := o.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	require.NoError(t, o.Close())

	// The survivor owns everything outright after the merge.
	assert.Equal(t, uint64(2), attributedTotal(t, clone))
	assert.Equal(t, uint64(l.Stats().InUse), attributedTotal(t, clone))
}

func TestAttribution_MarkersNotCharged(t *testing.T) {
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 2)
	defer o.Close()
	fillPage(t, o, 0, 1)

	clone, err := o.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	require.NoError(t, clone.ZeroRange(context.Background(), 0, pageSize))

	// The marker shadows the ancestor page without holding memory.
	assert.Equal(t, uint64(0), attributedTotal(t, clone))
	assert.Equal(t, uint64(1), attributedTotal(t, o))
}
