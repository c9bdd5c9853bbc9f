package heap

import (
	"path/filepath"
	"testing"
)

func newTestHybridHeap(t *testing.T) *HybridHeap {
	t.Helper()
	front, err := NewAppendLogHeap(filepath.Join(t.TempDir(), "front.log"))
	if err != nil {
		t.Fatalf("open front: %v", err)
	}
	back := NewPagedHeap(newMemPageStore(4096))
	h := NewHybridHeap(front, back)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHybridHeapInsertGetBeforeCompaction(t *testing.T) {
	h := newTestHybridHeap(t)
	id, err := h.Insert([]byte("hello"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok, err := h.Get(id)
	if err != nil || !ok || string(got) != "hello" {
		t.Fatalf("get: (%q, %v, %v)", got, ok, err)
	}
}

func TestHybridHeapCompactMigratesToBackStore(t *testing.T) {
	h := newTestHybridHeap(t)
	id, _ := h.Insert([]byte("migrate-me"))

	stats, err := h.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if stats.ScannedRecords != 1 {
		t.Fatalf("expected 1 record migrated, got %d", stats.ScannedRecords)
	}

	got, ok, err := h.Get(id)
	if err != nil || !ok || string(got) != "migrate-me" {
		t.Fatalf("expected record still readable after migration, got (%q, %v, %v)", got, ok, err)
	}
}

func TestHybridHeapUpdateAfterMigrationGoesToBackStore(t *testing.T) {
	h := newTestHybridHeap(t)
	id, _ := h.Insert([]byte("v1"))
	if _, err := h.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if err := h.Update(id, []byte("v2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, _ := h.Get(id)
	if !ok || string(got) != "v2" {
		t.Fatalf("expected updated value from back store, got %q", got)
	}
}

func TestHybridHeapDeleteAfterMigrationRemovesFromBackStore(t *testing.T) {
	h := newTestHybridHeap(t)
	id, _ := h.Insert([]byte("temp"))
	if _, err := h.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if err := h.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := h.Get(id); ok {
		t.Fatal("expected record gone after delete")
	}
}

func TestHybridHeapRestoreUndoesDeleteBeforeMigration(t *testing.T) {
	h := newTestHybridHeap(t)
	id, _ := h.Insert([]byte("original"))
	if err := h.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.Restore(id, []byte("original")); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, ok, err := h.Get(id)
	if err != nil || !ok || string(got) != "original" {
		t.Fatalf("get after restore: (%q, %v, %v)", got, ok, err)
	}
}

func TestHybridHeapRestoreUndoesDeleteAfterMigration(t *testing.T) {
	h := newTestHybridHeap(t)
	id, _ := h.Insert([]byte("original"))
	if _, err := h.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if err := h.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// The inBack mapping must survive Delete so Restore routes to the back
	// store rather than (incorrectly) the front log.
	if err := h.Restore(id, []byte("original")); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, ok, err := h.Get(id)
	if err != nil || !ok || string(got) != "original" {
		t.Fatalf("get after restore: (%q, %v, %v)", got, ok, err)
	}
}

func TestHybridHeapVacuumIsCompact(t *testing.T) {
	h := newTestHybridHeap(t)
	h.Insert([]byte("a"))
	h.Insert([]byte("b"))
	stats, err := h.Vacuum()
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if stats.ScannedRecords != 2 {
		t.Fatalf("expected vacuum to migrate both records, got %d", stats.ScannedRecords)
	}
}
