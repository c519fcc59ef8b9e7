package engine

import "sort"

// sectorIndex is an ordered map keyed by starting sector, one per device
// per kind that needs lookup (Q, A, X, I, M, D). It holds non-owning
// handles: the node pool owns the nodes, and the index is responsible for
// dropping its reference when the owner releases a node (SPEC_FULL.md
// §5, "4.3 In-flight index").
//
// Exact-sector membership is required to be unique by invariant 1, so
// lookup by exact key is a map; range queries (adjacency for merges,
// containment for completions) walk a parallel sector-sorted slice, the
// same "sorted slice + binary search" shape perfsession.Ranges uses for
// its range-valued lookups.
type sectorIndex struct {
	byStart map[uint64]handle
	sorted  []uint64 // ascending, kept in sync with byStart's keys
}

func newSectorIndex() *sectorIndex {
	return &sectorIndex{byStart: make(map[uint64]handle)}
}

func (x *sectorIndex) insert(sector uint64, h handle) {
	if _, exists := x.byStart[sector]; exists {
		// Invariant 1 is the caller's job to uphold (release or unlink
		// the older node first); overwriting here would leak a handle.
		x.erase(sector)
	}
	x.byStart[sector] = h
	i := sort.Search(len(x.sorted), func(i int) bool { return x.sorted[i] >= sector })
	x.sorted = append(x.sorted, 0)
	copy(x.sorted[i+1:], x.sorted[i:])
	x.sorted[i] = sector
}

func (x *sectorIndex) erase(sector uint64) {
	if _, ok := x.byStart[sector]; !ok {
		return
	}
	delete(x.byStart, sector)
	i := sort.Search(len(x.sorted), func(i int) bool { return x.sorted[i] >= sector })
	if i < len(x.sorted) && x.sorted[i] == sector {
		x.sorted = append(x.sorted[:i], x.sorted[i+1:]...)
	}
}

func (x *sectorIndex) findExact(sector uint64) (handle, bool) {
	h, ok := x.byStart[sector]
	return h, ok
}

// floorIndex returns the position in sorted of the greatest key <= sector,
// or -1 if none.
func (x *sectorIndex) floorIndex(sector uint64) int {
	i := sort.Search(len(x.sorted), func(i int) bool { return x.sorted[i] > sector })
	return i - 1
}

// rangeIter calls fn for every entry with low <= sector <= high, in
// ascending sector order.
func (x *sectorIndex) rangeIter(low, high uint64, fn func(sector uint64, h handle)) {
	i := sort.Search(len(x.sorted), func(i int) bool { return x.sorted[i] >= low })
	for ; i < len(x.sorted) && x.sorted[i] <= high; i++ {
		fn(x.sorted[i], x.byStart[x.sorted[i]])
	}
}

func (x *sectorIndex) len() int { return len(x.sorted) }
