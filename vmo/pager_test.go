package vmo

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vmokit/pkg/types"
)

func newPagerObject(t *testing.T, pages uint64, data []byte) (*Object, *InMemoryPager) {
	t.Helper()
	l := newTestLedger(t, 32)
	p := NewInMemoryPager(data)
	o, err := Create(l, CreateOptions{Size: pages * pageSize, Pager: p})
	require.NoError(t, err)
	p.Bind(o)
	return o, p
}

func TestPager_SynchronousSupply(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte{0x11}, pageSize)
	data = append(data, bytes.Repeat([]byte{0x22}, pageSize)...)
	o, p := newPagerObject(t, 2, data)
	defer o.Close()

	assert.Equal(t, byte(0x11), readPageByte(t, o, 0))
	assert.Equal(t, byte(0x22), readPageByte(t, o, 1))
	assert.Equal(t, 2, p.Requests)

	// Resident now: no further round-trips.
	buf := make([]byte, 2*pageSize)
	require.NoError(t, o.Read(ctx, buf, 0))
	assert.Equal(t, 2, p.Requests)
}

func TestPager_BeyondBackingReadsZero(t *testing.T) {
	// Backing store shorter than the object: the tail supplies as zero.
	o, _ := newPagerObject(t, 2, bytes.Repeat([]byte{0x33}, pageSize))
	defer o.Close()

	assert.Equal(t, byte(0x33), readPageByte(t, o, 0))
	assert.Equal(t, byte(0), readPageByte(t, o, 1))
}

func TestPager_DelayedSupply(t *testing.T) {
	ctx := context.Background()
	o, p := newPagerObject(t, 1, bytes.Repeat([]byte{0x44}, pageSize))
	defer o.Close()
	p.Delay()

	got := make(chan byte, 1)
	go func() {
		var buf [1]byte
		if err := o.Read(ctx, buf[:], 0); err != nil {
			got <- 0xFF
			return
		}
		got <- buf[0]
	}()

	// The reader is parked on the pager; nothing arrives until release.
	select {
	case <-got:
		t.Fatal("read completed before the pager supplied the page")
	case <-time.After(20 * time.Millisecond):
	}

	p.ReleaseAll()
	select {
	case b := <-got:
		assert.Equal(t, byte(0x44), b)
	case <-time.After(time.Second):
		t.Fatal("read never woke after supply")
	}
}

func TestPager_ContextCancel(t *testing.T) {
	o, p := newPagerObject(t, 1, nil)
	defer o.Close()
	p.Delay()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		var buf [1]byte
		errs <- o.Read(ctx, buf[:], 0)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled read never returned")
	}
}

func TestSupplyPages_Validation(t *testing.T) {
	o, _ := newPagerObject(t, 2, nil)
	defer o.Close()

	assert.ErrorIs(t, o.SupplyPages(1, []byte{1}), types.ErrOutOfRange, "unaligned offset")
	assert.ErrorIs(t, o.SupplyPages(0, make([]byte, 3*pageSize)), types.ErrOutOfRange, "past the end")

	l := newTestLedger(t, 4)
	anon := newAnon(t, l, 1)
	defer anon.Close()
	assert.ErrorIs(t, anon.SupplyPages(0, []byte{1}), types.ErrUnsupported, "no pager attached")
}

func TestSupplyPages_ResidentSlotWins(t *testing.T) {
	ctx := context.Background()
	o, _ := newPagerObject(t, 1, nil)
	defer o.Close()

	require.NoError(t, o.Write(ctx, []byte{0xAA}, 0))
	require.NoError(t, o.SupplyPages(0, bytes.Repeat([]byte{0xBB}, pageSize)))
	assert.Equal(t, byte(0xAA), readPageByte(t, o, 0), "racing supply must not clobber")
}

func TestPager_ChildCopiesOnWrite(t *testing.T) {
	data := bytes.Repeat([]byte{0x55}, pageSize)
	o, _ := newPagerObject(t, 1, data)
	defer o.Close()

	child, err := o.CreateClone(CloneOptions{Length: pageSize})
	require.NoError(t, err)
	defer child.Close()

	// Reads pass through to the pager-backed source.
	assert.Equal(t, byte(0x55), readPageByte(t, child, 0))

	// Writes copy; the source never sees them.
	fillPage(t, child, 0, 0x66)
	assert.Equal(t, byte(0x66), readPageByte(t, child, 0))
	assert.Equal(t, byte(0x55), readPageByte(t, o, 0))

	// COW cloning a pager-backed object is refused.
	_, err = o.CreateClone(CloneOptions{Length: pageSize, CopyOnWrite: true})
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestPager_CloseFailsWaiters(t *testing.T) {
	o, p := newPagerObject(t, 1, nil)
	p.Delay()

	errs := make(chan error, 1)
	go func() {
		var buf [1]byte
		errs <- o.Read(context.Background(), buf[:], 0)
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, o.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, types.ErrBadState)
	case <-time.After(time.Second):
		t.Fatal("waiter never failed on close")
	}
}
