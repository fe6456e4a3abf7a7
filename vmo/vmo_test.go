package vmo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/page"
	"github.com/joshuapare/vmokit/pkg/types"
)

const pageSize = pagemath.PageSize

func newTestLedger(t *testing.T, pages uint64) *page.Ledger {
	t.Helper()
	l, err := page.New(page.Options{MaxPages: pages})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func newAnon(t *testing.T, l *page.Ledger, pages uint64) *Object {
	t.Helper()
	o, err := Create(l, CreateOptions{Size: pagemath.Bytes(pages)})
	require.NoError(t, err)
	return o
}

// fillPage writes a full page of byte b at page index idx.
func fillPage(t *testing.T, o *Object, idx uint64, b byte) {
	t.Helper()
	buf := bytes.Repeat([]byte{b}, pageSize)
	require.NoError(t, o.Write(context.Background(), buf, pagemath.Bytes(idx)))
}

// readPageByte reads the first byte of page idx.
func readPageByte(t *testing.T, o *Object, idx uint64) byte {
	t.Helper()
	var buf [1]byte
	require.NoError(t, o.Read(context.Background(), buf[:], pagemath.Bytes(idx)))
	return buf[0]
}

func requireVerify(t *testing.T, o *Object) {
	t.Helper()
	require.NoError(t, o.Verify())
}

func TestCreate_Validation(t *testing.T) {
	l := newTestLedger(t, 16)

	_, err := Create(l, CreateOptions{Size: 0})
	assert.ErrorIs(t, err, types.ErrOutOfRange, "zero size")

	_, err = Create(l, CreateOptions{Size: pageSize + 1})
	assert.ErrorIs(t, err, types.ErrOutOfRange, "unaligned size")

	_, err = Create(l, CreateOptions{Size: pageSize, Contiguous: true, Resizable: true})
	assert.ErrorIs(t, err, types.ErrBadState, "contiguous objects cannot resize")

	o, err := Create(l, CreateOptions{Size: 4 * pageSize})
	require.NoError(t, err)
	assert.Equal(t, uint64(4*pageSize), o.Size())
	assert.False(t, o.IsContiguous())
	require.NoError(t, o.Close())
}

func TestReadWrite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 16)
	o := newAnon(t, l, 4)
	defer o.Close()

	// Uncommitted range reads as zero without allocating.
	buf := make([]byte, 2*pageSize)
	require.NoError(t, o.Read(ctx, buf, pageSize))
	assert.Equal(t, make([]byte, 2*pageSize), buf)
	assert.Equal(t, 0, l.Stats().InUse)

	// Unaligned write spanning a page boundary.
	payload := []byte("spans the first two pages")
	require.NoError(t, o.Write(ctx, payload, pageSize-7))

	got := make([]byte, len(payload))
	require.NoError(t, o.Read(ctx, got, pageSize-7))
	assert.Equal(t, payload, got)

	// Out of bounds either way.
	assert.ErrorIs(t, o.Read(ctx, buf, 3*pageSize), types.ErrOutOfRange)
	assert.ErrorIs(t, o.Write(ctx, []byte{1}, 4*pageSize), types.ErrOutOfRange)

	requireVerify(t, o)
}

func TestClose_Twice(t *testing.T) {
	l := newTestLedger(t, 4)
	o := newAnon(t, l, 2)
	fillPage(t, o, 0, 0xAB)

	require.NoError(t, o.Close())
	assert.ErrorIs(t, o.Close(), types.ErrBadState)
	assert.Equal(t, 0, l.Stats().InUse, "frames returned on destroy")
}

func TestAttribution_SingleObject(t *testing.T) {
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 4)
	defer o.Close()

	fillPage(t, o, 0, 1)
	fillPage(t, o, 2, 2)

	n, err := o.AttributedPagesInRange(0, 4*pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	n, err = o.AttributedPagesInRange(2*pageSize, 2*pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	_, err = o.AttributedPagesInRange(0, 5*pageSize)
	assert.ErrorIs(t, err, types.ErrOutOfRange)
}

func TestResize_GrowAndShrink(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 16)
	o, err := Create(l, CreateOptions{Size: 2 * pageSize, Resizable: true})
	require.NoError(t, err)
	defer o.Close()

	fillPage(t, o, 0, 7)
	fillPage(t, o, 1, 8)

	require.NoError(t, o.Resize(4*pageSize))
	assert.Equal(t, uint64(4*pageSize), o.Size())
	assert.Equal(t, byte(0), readPageByte(t, o, 3), "grown range reads zero")

	require.NoError(t, o.Resize(pageSize))
	assert.Equal(t, uint64(pageSize), o.Size())
	assert.Equal(t, byte(7), readPageByte(t, o, 0))
	assert.Equal(t, 1, l.Stats().InUse, "dropped tail freed")

	var buf [1]byte
	assert.ErrorIs(t, o.Read(ctx, buf[:], pageSize), types.ErrOutOfRange)
	requireVerify(t, o)
}

func TestResize_Unsupported(t *testing.T) {
	l := newTestLedger(t, 4)
	o := newAnon(t, l, 2)
	defer o.Close()
	assert.ErrorIs(t, o.Resize(4*pageSize), types.ErrUnsupported)
}

func TestResize_PinnedTail(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o, err := Create(l, CreateOptions{Size: 2 * pageSize, Resizable: true})
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, o.CommitRange(ctx, pageSize, pageSize))
	require.NoError(t, o.Pin(ctx, pageSize, pageSize))

	assert.ErrorIs(t, o.Resize(pageSize), types.ErrBadState)
	assert.Equal(t, uint64(2*pageSize), o.Size(), "failed resize left size alone")

	require.NoError(t, o.Unpin(pageSize, pageSize))
	require.NoError(t, o.Resize(pageSize))
}

func TestDecommitRange(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 4)
	defer o.Close()

	fillPage(t, o, 1, 5)
	fillPage(t, o, 2, 6)
	require.Equal(t, 2, l.Stats().InUse)

	require.NoError(t, o.DecommitRange(pageSize, 2*pageSize))
	assert.Equal(t, 0, l.Stats().InUse)
	assert.Equal(t, byte(0), readPageByte(t, o, 1))
	assert.Equal(t, byte(0), readPageByte(t, o, 2))

	// Pinned pages block the whole call.
	require.NoError(t, o.CommitRange(ctx, 0, 2*pageSize))
	require.NoError(t, o.Pin(ctx, 0, pageSize))
	assert.ErrorIs(t, o.DecommitRange(0, 2*pageSize), types.ErrBadState)
	assert.Equal(t, 2, l.Stats().InUse, "nothing freed on failure")
	require.NoError(t, o.Unpin(0, pageSize))
	requireVerify(t, o)
}

func TestDecommitRange_Unsupported(t *testing.T) {
	l := newTestLedger(t, 16)

	parent := newAnon(t, l, 2)
	defer parent.Close()
	clone, err := parent.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()
	assert.ErrorIs(t, clone.DecommitRange(0, pageSize), types.ErrUnsupported)

	cont, err := Create(l, CreateOptions{Size: 2 * pageSize, Contiguous: true})
	require.NoError(t, err)
	defer cont.Close()
	assert.ErrorIs(t, cont.DecommitRange(0, pageSize), types.ErrUnsupported)
}

func TestZeroRange_WholePages(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 4)
	defer o.Close()

	fillPage(t, o, 0, 3)
	fillPage(t, o, 1, 4)

	// No ancestor: the page is freed, not replaced by a marker.
	require.NoError(t, o.ZeroRange(ctx, 0, pageSize))
	assert.Equal(t, byte(0), readPageByte(t, o, 0))
	assert.Equal(t, 1, l.Stats().InUse)

	n, err := o.AttributedPagesInRange(0, 4*pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "freed page no longer attributed")
	requireVerify(t, o)
}

func TestZeroRange_Partial(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 2)
	defer o.Close()

	fillPage(t, o, 0, 0xFF)
	fillPage(t, o, 1, 0xFF)

	// Zero an unaligned span: [100, pageSize+100).
	require.NoError(t, o.ZeroRange(ctx, 100, pageSize))

	buf := make([]byte, 2*pageSize)
	require.NoError(t, o.Read(ctx, buf, 0))
	for i, b := range buf {
		want := byte(0xFF)
		if i >= 100 && i < pageSize+100 {
			want = 0
		}
		if b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}
}

func TestZeroRange_MarkerShadowsAncestor(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 8)
	o := newAnon(t, l, 2)
	defer o.Close()
	fillPage(t, o, 0, 9)

	clone, err := o.CreateClone(CloneOptions{Length: 2 * pageSize, CopyOnWrite: true})
	require.NoError(t, err)
	defer clone.Close()

	// The clone has no page of its own; zeroing must shadow the ancestor
	// content rather than allocate.
	inUse := l.Stats().InUse
	require.NoError(t, clone.ZeroRange(ctx, 0, pageSize))
	assert.Equal(t, inUse, l.Stats().InUse, "marker, not a fresh page")

	assert.Equal(t, byte(0), readPageByte(t, clone, 0))
	assert.Equal(t, byte(9), readPageByte(t, o, 0), "ancestor content untouched")
	requireVerify(t, o)
}
