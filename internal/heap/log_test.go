package heap

import (
	"path/filepath"
	"testing"
)

func openTestLogHeap(t *testing.T) (*AppendLogHeap, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heap.log")
	h, err := NewAppendLogHeap(path)
	if err != nil {
		t.Fatalf("open log heap: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, path
}

func TestAppendLogHeapInsertGet(t *testing.T) {
	h, _ := openTestLogHeap(t)
	id, err := h.Insert([]byte("hello"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok, err := h.Get(id)
	if err != nil || !ok || string(got) != "hello" {
		t.Fatalf("get: (%q, %v, %v)", got, ok, err)
	}
}

func TestAppendLogHeapUpdateAppendsNewVersion(t *testing.T) {
	h, _ := openTestLogHeap(t)
	id, _ := h.Insert([]byte("v1"))
	if err := h.Update(id, []byte("v2")); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, _ := h.Get(id)
	if !ok || string(got) != "v2" {
		t.Fatalf("expected latest version, got %q", got)
	}
}

func TestAppendLogHeapDelete(t *testing.T) {
	h, _ := openTestLogHeap(t)
	id, _ := h.Insert([]byte("gone"))
	if err := h.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := h.Get(id); ok {
		t.Fatal("expected record to be gone after delete")
	}
	if err := h.Update(id, []byte("x")); err == nil {
		t.Fatal("expected update of deleted record to fail")
	}
}

func TestAppendLogHeapRestoreUndoesDelete(t *testing.T) {
	h, _ := openTestLogHeap(t)
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

func TestAppendLogHeapReplayRebuildsIndexOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.log")
	h, err := NewAppendLogHeap(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id1, _ := h.Insert([]byte("first"))
	id2, _ := h.Insert([]byte("second"))
	h.Update(id1, []byte("first-updated"))
	h.Delete(id2)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := NewAppendLogHeap(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	got, ok, _ := h2.Get(id1)
	if !ok || string(got) != "first-updated" {
		t.Fatalf("expected replay to reconstruct latest version, got (%q, %v)", got, ok)
	}
	if _, ok, _ := h2.Get(id2); ok {
		t.Fatal("expected replay to reconstruct the tombstone for id2")
	}
}

func TestAppendLogHeapVacuumReclaimsSuperseded(t *testing.T) {
	h, _ := openTestLogHeap(t)
	id1, _ := h.Insert([]byte("keep"))
	id2, _ := h.Insert([]byte("remove-me"))
	h.Update(id1, []byte("keep-v2"))
	h.Delete(id2)

	stats, err := h.Vacuum()
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if stats.ScannedRecords != 2 {
		t.Fatalf("expected 2 ids scanned, got %d", stats.ScannedRecords)
	}
	if stats.ReclaimedBytes <= 0 {
		t.Fatal("expected vacuum to reclaim some bytes from the superseded/tombstoned versions")
	}

	got, ok, _ := h.Get(id1)
	if !ok || string(got) != "keep-v2" {
		t.Fatalf("expected latest version to survive vacuum, got (%q, %v)", got, ok)
	}
	if _, ok, _ := h.Get(id2); ok {
		t.Fatal("expected tombstoned id to remain gone after vacuum")
	}
}

func TestAppendLogHeapScanVisitsOnlyLiveRecords(t *testing.T) {
	h, _ := openTestLogHeap(t)
	h.Insert([]byte("a"))
	id2, _ := h.Insert([]byte("b"))
	h.Insert([]byte("c"))
	h.Delete(id2)

	seen := 0
	err := h.Scan(func(id RecordID, row []byte) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected 2 live records, got %d", seen)
	}
}
