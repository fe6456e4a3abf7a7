package vmo

import (
	"sort"
	"sync"

	"github.com/joshuapare/vmokit/internal/pagemath"
	"github.com/joshuapare/vmokit/pkg/types"
)

// Mapping is the address-space collaborator. The engine calls it whenever a
// page at a given object/offset changes identity (forked, freed,
// decommitted) so stale translations are dropped; the engine never touches
// page tables itself.
type Mapping interface {
	// Invalidate drops any translation for [off, off+length) of the object.
	Invalidate(id types.ObjectID, off, length uint64)

	// RemoveWrite downgrades any translation for [off, off+length) to
	// read-only, forcing the next write to re-fault and fork.
	RemoveWrite(id types.ObjectID, off, length uint64)
}

// NopMapping discards all notifications. Used when no address-space layer is
// attached.
type NopMapping struct{}

func (NopMapping) Invalidate(types.ObjectID, uint64, uint64)  {}
func (NopMapping) RemoveWrite(types.ObjectID, uint64, uint64) {}

// invRange is one pending invalidation in a BatchMapping.
type invRange struct {
	off uint64
	len uint64
}

// BatchMapping accumulates invalidations and forwards them, coalesced into
// page-aligned non-overlapping ranges, on Flush. RemoveWrite is forwarded
// immediately: delaying a write-downgrade would let a stale writable
// translation skip a fork.
//
// Useful when the real mapping layer charges per shootdown and the caller
// batches structural operations.
type BatchMapping struct {
	mu      sync.Mutex
	inner   Mapping
	pending map[types.ObjectID][]invRange
}

// NewBatchMapping wraps inner with invalidation batching.
func NewBatchMapping(inner Mapping) *BatchMapping {
	return &BatchMapping{inner: inner, pending: make(map[types.ObjectID][]invRange)}
}

func (b *BatchMapping) Invalidate(id types.ObjectID, off, length uint64) {
	if length == 0 {
		return
	}
	b.mu.Lock()
	b.pending[id] = append(b.pending[id], invRange{off: off, len: length})
	b.mu.Unlock()
}

func (b *BatchMapping) RemoveWrite(id types.ObjectID, off, length uint64) {
	b.inner.RemoveWrite(id, off, length)
}

// Flush forwards all pending invalidations and clears the batch.
func (b *BatchMapping) Flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[types.ObjectID][]invRange)
	b.mu.Unlock()

	for id, ranges := range pending {
		for _, r := range coalesce(ranges) {
			b.inner.Invalidate(id, r.off, r.len)
		}
	}
}

// coalesce page-aligns the ranges, sorts them, and merges overlapping or
// adjacent ones.
func coalesce(ranges []invRange) []invRange {
	if len(ranges) == 0 {
		return nil
	}
	aligned := make([]invRange, len(ranges))
	for i, r := range ranges {
		start := pagemath.AlignDown(r.off)
		end := pagemath.AlignUp(r.off + r.len)
		aligned[i] = invRange{off: start, len: end - start}
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].off < aligned[j].off })

	merged := make([]invRange, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.off <= current.off+current.len {
			if end := next.off + next.len; end > current.off+current.len {
				current.len = end - current.off
			}
		} else {
			merged = append(merged, current)
			current = next
		}
	}
	return append(merged, current)
}
