// Package heap implements the three storage engine modes named in spec
// §4.7/§4.8/§4.9: a paged/slotted-page heap, an append-only log heap with
// VACUUM, and a hybrid engine combining a WAL-fronted write path with a
// background-compacted paged back store.
package heap

import (
	"sync"

	"scdb/internal/scerr"
)

// RecordID addresses one stored record.
type RecordID struct {
	PageID uint64
	Slot   uint16
}

// Engine is the common interface all three storage modes implement, so the
// database facade (spec §4.12) can be written once against it.
type Engine interface {
	Insert(row []byte) (RecordID, error)
	Update(id RecordID, row []byte) error
	Delete(id RecordID) error
	Get(id RecordID) ([]byte, bool, error)
	Scan(fn func(RecordID, []byte) bool) error
	// Restore reinstates row at id regardless of id's current live/deleted
	// state. The facade uses it to undo a prior Delete or Update when a
	// batch transaction aborts or a WAL append fails, and WAL replay uses
	// it to redo an Insert or Update at its original id (spec §4.12).
	Restore(id RecordID, row []byte) error
	Vacuum() (VacuumStats, error)
	Close() error
}

// VacuumStats reports the outcome of a compaction pass (spec §4.8/§4.9).
type VacuumStats struct {
	ScannedRecords  int
	ReclaimedBytes  int64
	ReclaimedPages  int
}

var errNotFound = scerr.New(scerr.KindNotFound, "record not found")

// ErrNotFound is returned by Update/Delete when the RecordID is unknown.
func ErrNotFound() error { return errNotFound }

// mu-guarded sequential id generator used by the append-log engine to
// assign record ids; grounded on the teacher's
// pager.Pager.nextPageID atomic counter (pager/pager.go).
type idGen struct {
	mu   sync.Mutex
	next uint64
}

func (g *idGen) next1() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}
