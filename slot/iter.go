package slot

// Iter walks occupied slots in ascending index order. It snapshots the key
// set at creation: entries added or removed mid-iteration are not observed.
// Finite and not restartable.
type Iter struct {
	m    *Map
	keys []uint64
	pos  int
	idx  uint64
	cur  *Entry
}

// Range returns an iterator over occupied slots in [start, end).
func (m *Map) Range(start, end uint64) *Iter {
	return &Iter{m: m, keys: m.sortedKeys(start, end), pos: -1}
}

// Next advances to the next occupied slot, skipping entries removed since
// the snapshot. Returns false when exhausted.
func (it *Iter) Next() bool {
	for it.pos+1 < len(it.keys) {
		it.pos++
		k := it.keys[it.pos]
		if e := it.m.Lookup(k); e != nil {
			it.idx, it.cur = k, e
			return true
		}
	}
	it.cur = nil
	return false
}

// Index returns the page index of the current slot.
func (it *Iter) Index() uint64 { return it.idx }

// Entry returns the current slot's entry.
func (it *Iter) Entry() *Entry { return it.cur }

// GapIter walks [start, end) as a sequence of runs: each run is either one
// occupied slot (Entry non-nil, length 1) or a maximal gap (Entry nil).
// Finite and not restartable.
type GapIter struct {
	m     *Map
	keys  []uint64
	kpos  int
	next  uint64 // next index to report
	end   uint64
	start uint64 // current run start
	n     uint64 // current run length
	cur   *Entry
}

// RangeWithGaps returns a gap-aware iterator over [start, end).
func (m *Map) RangeWithGaps(start, end uint64) *GapIter {
	return &GapIter{m: m, keys: m.sortedKeys(start, end), next: start, end: end}
}

// Next advances to the next run. Returns false when [start, end) is fully
// consumed.
func (it *GapIter) Next() bool {
	if it.next >= it.end {
		return false
	}
	// Skip snapshot keys below the cursor or since removed.
	for it.kpos < len(it.keys) {
		k := it.keys[it.kpos]
		if k < it.next || it.m.Lookup(k) == nil {
			it.kpos++
			continue
		}
		break
	}
	if it.kpos < len(it.keys) {
		k := it.keys[it.kpos]
		if k == it.next {
			// Occupied run of one.
			it.start, it.n, it.cur = k, 1, it.m.Lookup(k)
			it.kpos++
			it.next = k + 1
			return true
		}
		// Gap up to the next occupied slot.
		it.start, it.n, it.cur = it.next, k-it.next, nil
		it.next = k
		return true
	}
	// Trailing gap.
	it.start, it.n, it.cur = it.next, it.end-it.next, nil
	it.next = it.end
	return true
}

// Start returns the first page index of the current run.
func (it *GapIter) Start() uint64 { return it.start }

// Len returns the current run's length in pages.
func (it *GapIter) Len() uint64 { return it.n }

// Entry returns the occupied slot's entry, or nil for a gap run.
func (it *GapIter) Entry() *Entry { return it.cur }
