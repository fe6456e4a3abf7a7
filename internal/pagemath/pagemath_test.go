package pagemath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignment(t *testing.T) {
	assert.True(t, IsAligned(0))
	assert.True(t, IsAligned(PageSize))
	assert.False(t, IsAligned(1))
	assert.False(t, IsAligned(PageSize+1))

	assert.Equal(t, uint64(0), AlignDown(PageSize-1))
	assert.Equal(t, uint64(PageSize), AlignDown(PageSize))
	assert.Equal(t, uint64(PageSize), AlignUp(1))
	assert.Equal(t, uint64(PageSize), AlignUp(PageSize))
	assert.Equal(t, uint64(2*PageSize), AlignUp(PageSize+1))
}

func TestPagesFor(t *testing.T) {
	cases := []struct {
		bytes uint64
		pages uint64
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{10 * PageSize, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.pages, PagesFor(tc.bytes), "PagesFor(%d)", tc.bytes)
	}
}

func TestPageIndexOffset(t *testing.T) {
	assert.Equal(t, uint64(0), PageIndex(PageSize-1))
	assert.Equal(t, uint64(1), PageIndex(PageSize))
	assert.Equal(t, uint64(PageSize-1), PageOffset(PageSize-1))
	assert.Equal(t, uint64(0), PageOffset(2*PageSize))
	assert.Equal(t, uint64(3*PageSize), Bytes(3))
}

func TestRangeInBounds(t *testing.T) {
	assert.True(t, RangeInBounds(0, 10, 10))
	assert.True(t, RangeInBounds(10, 0, 10))
	assert.False(t, RangeInBounds(10, 1, 10))
	assert.False(t, RangeInBounds(11, 0, 10))
	// Overflow-safe: off+length would wrap a naive comparison.
	assert.False(t, RangeInBounds(1, ^uint64(0), 10))
}

func TestIntersect(t *testing.T) {
	start, length := Intersect(0, 10, 5, 10)
	assert.Equal(t, uint64(5), start)
	assert.Equal(t, uint64(5), length)

	start, length = Intersect(8, 4, 0, 20)
	assert.Equal(t, uint64(8), start)
	assert.Equal(t, uint64(4), length)

	_, length = Intersect(0, 5, 5, 5)
	assert.Equal(t, uint64(0), length, "touching ranges do not overlap")

	_, length = Intersect(0, 0, 0, 10)
	assert.Equal(t, uint64(0), length, "empty range never overlaps")
}
