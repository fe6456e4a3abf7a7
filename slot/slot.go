// Package slot implements the sparse per-object slot map: page index to
// {empty, marker, page} with the per-resident-page bookkeeping (pin counts,
// split bits) that rides along with a page wherever it moves.
//
// The map is deliberately not self-locking: every map belongs to exactly one
// object node, and all access happens under that node's family lock.
package slot

import (
	"sort"

	"github.com/joshuapare/vmokit/page"
)

// State describes what a slot holds.
type State uint8

const (
	// Empty means no entry: content is defined by the ancestor chain, the
	// pager, or logical zero.
	Empty State = iota
	// Marker means explicit logical zero with no physical backing. A marker
	// shadows any ancestor content at its offset.
	Marker
	// Page means a resident physical frame owned by this map.
	Page
)

// Entry is one occupied slot. Split bits are meaningful only while the entry
// lives in a hidden node's map; pins only while it lives in a leaf's.
type Entry struct {
	State State
	Frame *page.Frame // non-nil iff State == Page

	// Pins counts outstanding pin requests. A pinned page may not be
	// migrated, forked away, or freed.
	Pins uint16

	// SplitLeft/SplitRight record, on a hidden node's page, that the page
	// has already been forked down the left/right child. Both bits set on a
	// resident page is a corruption invariant.
	SplitLeft  bool
	SplitRight bool
}

// Pinned reports whether the entry has outstanding pins.
func (e *Entry) Pinned() bool { return e != nil && e.Pins > 0 }

// ClearSplits resets both split bits (used when a page migrates to a node
// where the old fork directions are meaningless).
func (e *Entry) ClearSplits() {
	e.SplitLeft = false
	e.SplitRight = false
}

// Map is a sparse slot map keyed by page index.
type Map struct {
	entries map[uint64]*Entry
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{entries: make(map[uint64]*Entry)}
}

// Lookup returns the entry at idx, or nil.
func (m *Map) Lookup(idx uint64) *Entry {
	return m.entries[idx]
}

// Put inserts (or replaces) a resident page at idx and returns its entry.
// Replacing an existing page does not free the old frame; the caller owns
// that handoff.
func (m *Map) Put(idx uint64, f *page.Frame) *Entry {
	e := &Entry{State: Page, Frame: f}
	m.entries[idx] = e
	return e
}

// PutMarker inserts an explicit-zero marker at idx, replacing any entry.
func (m *Map) PutMarker(idx uint64) *Entry {
	e := &Entry{State: Marker}
	m.entries[idx] = e
	return e
}

// PutEntry installs an existing entry at idx, preserving its pins and split
// bits. Used for ownership transfers between maps.
func (m *Map) PutEntry(idx uint64, e *Entry) {
	m.entries[idx] = e
}

// Remove deletes and returns the entry at idx (nil if absent).
func (m *Map) Remove(idx uint64) *Entry {
	e := m.entries[idx]
	if e != nil {
		delete(m.entries, idx)
	}
	return e
}

// MoveTo transfers the entry at srcIdx into dst at dstIdx, keeping its
// bookkeeping intact. Returns the moved entry, or nil if srcIdx was empty.
func (m *Map) MoveTo(dst *Map, srcIdx, dstIdx uint64) *Entry {
	e := m.Remove(srcIdx)
	if e == nil {
		return nil
	}
	dst.PutEntry(dstIdx, e)
	return e
}

// Len returns the number of occupied slots (markers included).
func (m *Map) Len() int { return len(m.entries) }

// Resident counts slots holding physical pages within [start, end).
func (m *Map) Resident(start, end uint64) uint64 {
	var n uint64
	for idx, e := range m.entries {
		if idx >= start && idx < end && e.State == Page {
			n++
		}
	}
	return n
}

// Frames collects the physical frames held anywhere in the map. Used when an
// object dies and its pages return to the ledger.
func (m *Map) Frames() []*page.Frame {
	out := make([]*page.Frame, 0, len(m.entries))
	for _, e := range m.entries {
		if e.State == Page {
			out = append(out, e.Frame)
		}
	}
	return out
}

// Clear removes every entry without freeing frames.
func (m *Map) Clear() {
	m.entries = make(map[uint64]*Entry)
}

// sortedKeys snapshots the occupied indexes within [start, end), ascending.
func (m *Map) sortedKeys(start, end uint64) []uint64 {
	keys := make([]uint64, 0, len(m.entries))
	for idx := range m.entries {
		if idx >= start && idx < end {
			keys = append(keys, idx)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
