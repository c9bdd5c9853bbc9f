package format

import (
	"fmt"
	"sort"
	"sync"
)

// AllocStrategy selects which free extent an allocation request prefers
// (spec §4.3, spec §6 extent_allocation_strategy).
type AllocStrategy int

const (
	BestFit AllocStrategy = iota
	FirstFit
	WorstFit
)

func ParseAllocStrategy(s string) (AllocStrategy, error) {
	switch s {
	case "BestFit", "":
		return BestFit, nil
	case "FirstFit":
		return FirstFit, nil
	case "WorstFit":
		return WorstFit, nil
	default:
		return BestFit, fmt.Errorf("unknown extent_allocation_strategy %q", s)
	}
}

// Extent is a contiguous run of free pages.
type Extent struct {
	Start  PageID
	Length uint64
}

// extendFloors is the exponential file-growth schedule (spec §4.3: "256,
// 512, 1024, ... up to a cap").
var extendFloors = []uint64{256, 512, 1024, 2048, 4096, 8192, 16384}

const extendCap = 16384

// FSM is the free-space map: a two-level structure of an L1 bitmap (one
// bit per page) plus an L2 sorted, coalesced extent list, matching spec
// §3/§4.3. The bitmap is kept purely as the durable, bit-exact on-disk
// representation (spec's round-trip invariant: "the union of free extents
// equals the set of 1-bits in the bitmap"); all allocation decisions are
// made by a linear scan of the in-memory extent list, grounded on
// the teacher's FreeManager (pager/freelist.go) but generalized from
// single-page accounting to multi-page extents.
type FSM struct {
	mu         sync.Mutex
	extents    []Extent // sorted by Start, non-overlapping, non-adjacent
	totalPages uint64   // high-water mark of pages ever allocated in the file
	strategy   AllocStrategy
	extendIdx  int
}

// NewFSM creates an FSM covering zero pages; Grow/Free populate it.
func NewFSM(strategy AllocStrategy) *FSM {
	return &FSM{strategy: strategy}
}

// Bitmap renders the current extent list as an L1 bitmap covering
// totalPages bits, matching the on-disk FSM block layout (spec §3).
func (f *FSM) Bitmap() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	bm := make([]byte, (f.totalPages+7)/8)
	for _, e := range f.extents {
		for p := e.Start; p < e.Start+PageID(e.Length); p++ {
			bm[p/8] |= 1 << (p % 8)
		}
	}
	return bm
}

// LoadExtents replaces the in-memory extent list (used when reopening a
// file; the FSM block is parsed into extents by the caller).
func (f *FSM) LoadExtents(extents []Extent, totalPages uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extents = append([]Extent(nil), extents...)
	sort.Slice(f.extents, func(i, j int) bool { return f.extents[i].Start < f.extents[j].Start })
	f.totalPages = totalPages
}

// Extents returns a copy of the current extent list, sorted by Start.
func (f *FSM) Extents() []Extent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Extent, len(f.extents))
	copy(out, f.extents)
	return out
}

// TotalPages returns the file's high-water mark of allocated pages.
func (f *FSM) TotalPages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalPages
}

// Alloc reserves k contiguous pages per the configured strategy. If no
// extent fits, grow reports how many pages to extend the file by (the
// caller — the storage provider — performs the actual file growth and
// then calls Grow to register the new extent before retrying).
//
// Returns (start, true, 0) on success, or (0, false, extendBy) when the
// file must grow first.
func (f *FSM) Alloc(k uint64) (PageID, bool, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, ok := f.pickLocked(k)
	if !ok {
		return 0, false, f.nextExtendSizeLocked(k)
	}
	e := f.extents[idx]
	start := e.Start
	if e.Length == k {
		f.extents = append(f.extents[:idx], f.extents[idx+1:]...)
	} else {
		f.extents[idx] = Extent{Start: e.Start + PageID(k), Length: e.Length - k}
	}
	return start, true, 0
}

// pickLocked selects the extent index satisfying the configured strategy.
// Tie-break rule (spec §4.3): on equal fit, prefer the extent nearest the
// beginning of the file.
func (f *FSM) pickLocked(k uint64) (int, bool) {
	best := -1
	for i, e := range f.extents {
		if e.Length < k {
			continue
		}
		switch f.strategy {
		case FirstFit:
			return i, true
		case WorstFit:
			if best == -1 || e.Length > f.extents[best].Length ||
				(e.Length == f.extents[best].Length && e.Start < f.extents[best].Start) {
				best = i
			}
		default: // BestFit
			if best == -1 || e.Length < f.extents[best].Length ||
				(e.Length == f.extents[best].Length && e.Start < f.extents[best].Start) {
				best = i
			}
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// nextExtendSizeLocked computes max(k, extend_floor) for the next growth
// step, advancing the exponential schedule on each call (spec §4.3).
func (f *FSM) nextExtendSizeLocked(k uint64) uint64 {
	floor := extendCap
	if f.extendIdx < len(extendFloors) {
		floor = int(extendFloors[f.extendIdx])
		f.extendIdx++
	}
	n := k
	if uint64(floor) > n {
		n = uint64(floor)
	}
	return n
}

// Grow registers a newly-appended extent of length pages starting at
// start, after the storage provider has physically extended the file.
func (f *FSM) Grow(start PageID, length uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertLocked(Extent{Start: start, Length: length})
	if top := uint64(start) + length; top > f.totalPages {
		f.totalPages = top
	}
}

// Free returns a previously-allocated extent to the free pool, coalescing
// with adjacent extents (spec §4.3).
func (f *FSM) Free(start PageID, length uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertLocked(Extent{Start: start, Length: length})
}

func (f *FSM) insertLocked(e Extent) {
	idx := sort.Search(len(f.extents), func(i int) bool { return f.extents[i].Start >= e.Start })
	f.extents = append(f.extents, Extent{})
	copy(f.extents[idx+1:], f.extents[idx:])
	f.extents[idx] = e
	f.coalesceLocked()
}

// coalesceLocked merges adjacent and overlapping extents in the sorted
// list so that no two stored extents are adjacent (spec §4.3/P5).
func (f *FSM) coalesceLocked() {
	if len(f.extents) < 2 {
		return
	}
	out := f.extents[:1]
	for _, e := range f.extents[1:] {
		last := &out[len(out)-1]
		if uint64(last.Start)+last.Length >= uint64(e.Start) {
			end := uint64(e.Start) + e.Length
			if lastEnd := uint64(last.Start) + last.Length; end > lastEnd {
				last.Length = end - uint64(last.Start)
			}
			continue
		}
		out = append(out, e)
	}
	f.extents = out
}

// FreePageCount returns the total number of free pages across all extents.
func (f *FSM) FreePageCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint64
	for _, e := range f.extents {
		n += e.Length
	}
	return n
}
