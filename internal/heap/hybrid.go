package heap

import (
	"sync"
)

// HybridHeap combines a WAL-fronted append-only log for fast, durable
// writes with a paged back store that a background compaction cycle
// migrates records into (spec §4.9: "hybrid engine: WAL-front write path,
// background-compacted paged back store").
//
// Grounded on the teacher's internal/storage/backend_hybrid.go (an LRU
// memory cache in front of a disk-backed store, with a background-style
// eviction/flush policy), restructured here so the "front" is a durable
// append log rather than a volatile memory cache — spec §4.9 requires the
// front path to survive a crash before compaction runs, which an in-memory
// cache alone cannot guarantee.
type HybridHeap struct {
	mu     sync.Mutex
	front  *AppendLogHeap
	back   *PagedHeap
	inBack map[uint64]RecordID // log id -> paged RecordID, once compacted
}

// NewHybridHeap wraps front (the durable log) and back (the paged store)
// into one engine.
func NewHybridHeap(front *AppendLogHeap, back *PagedHeap) *HybridHeap {
	return &HybridHeap{front: front, back: back, inBack: make(map[uint64]RecordID)}
}

func (h *HybridHeap) Insert(row []byte) (RecordID, error) {
	return h.front.Insert(row)
}

func (h *HybridHeap) Update(id RecordID, row []byte) error {
	h.mu.Lock()
	backID, migrated := h.inBack[id.PageID]
	h.mu.Unlock()
	if migrated {
		return h.back.Update(backID, row)
	}
	return h.front.Update(id, row)
}

func (h *HybridHeap) Delete(id RecordID) error {
	h.mu.Lock()
	backID, migrated := h.inBack[id.PageID]
	h.mu.Unlock()
	// The inBack mapping is kept even after delete: Restore needs it to
	// know which store to reinstate the row into if the delete is undone.
	if migrated {
		return h.back.Delete(backID)
	}
	return h.front.Delete(id)
}

// Restore undoes a prior Delete on id, routing to whichever store
// currently (or, for a just-reverted Delete, previously) held it.
func (h *HybridHeap) Restore(id RecordID, row []byte) error {
	h.mu.Lock()
	backID, migrated := h.inBack[id.PageID]
	h.mu.Unlock()
	if migrated {
		return h.back.Restore(backID, row)
	}
	return h.front.Restore(id, row)
}

func (h *HybridHeap) Get(id RecordID) ([]byte, bool, error) {
	h.mu.Lock()
	backID, migrated := h.inBack[id.PageID]
	h.mu.Unlock()
	if migrated {
		return h.back.Get(backID)
	}
	return h.front.Get(id)
}

func (h *HybridHeap) Scan(fn func(RecordID, []byte) bool) error {
	return h.front.Scan(fn)
}

// Compact copies every live front record not yet in the back store into
// the back store, then runs the front's own Vacuum. That Vacuum drops only
// superseded versions and tombstones; migrated records stay in the front
// log as well. This is the "background compaction cycle" the
// provider's scheduler (spec §4.4/§6) invokes on a timer.
func (h *HybridHeap) Compact() (VacuumStats, error) {
	var toMigrate []RecordID
	var payloads [][]byte
	err := h.front.Scan(func(id RecordID, row []byte) bool {
		h.mu.Lock()
		_, already := h.inBack[id.PageID]
		h.mu.Unlock()
		if !already {
			toMigrate = append(toMigrate, id)
			payloads = append(payloads, append([]byte(nil), row...))
		}
		return true
	})
	if err != nil {
		return VacuumStats{}, err
	}

	stats := VacuumStats{ScannedRecords: len(toMigrate)}
	for i, id := range toMigrate {
		backID, err := h.back.Insert(payloads[i])
		if err != nil {
			return stats, err
		}
		h.mu.Lock()
		h.inBack[id.PageID] = backID
		h.mu.Unlock()
	}

	frontStats, err := h.front.Vacuum()
	if err != nil {
		return stats, err
	}
	stats.ReclaimedBytes += frontStats.ReclaimedBytes
	return stats, nil
}

// Vacuum runs one compaction cycle synchronously (spec §4.9's VACUUM
// operation drives the same path the background scheduler uses).
func (h *HybridHeap) Vacuum() (VacuumStats, error) { return h.Compact() }

func (h *HybridHeap) Close() error {
	if err := h.front.Close(); err != nil {
		return err
	}
	return h.back.Close()
}
