package walog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestWAL(t *testing.T, cfg Config) *WAL {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "wal.log")
	}
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, Config{Path: path})

	lsn, err := w.AppendNoWait(&Entry{TxID: 1, Op: OpInsert, TargetBlockID: 9, TargetPageID: 3, Payload: []byte("row-data")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if lsn != 1 {
		t.Fatalf("expected first LSN to be 1, got %d", lsn)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if string(entries[0].Payload) != "row-data" {
		t.Fatalf("unexpected payload: %q", entries[0].Payload)
	}
	if entries[0].TargetBlockID != 9 || entries[0].TargetPageID != 3 {
		t.Fatalf("unexpected target: %+v", entries[0])
	}
}

func TestAppendChainsLargePayloadAcrossSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, Config{Path: path})

	payload := make([]byte, MaxPayload*2+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := w.AppendNoWait(&Entry{TxID: 1, Op: OpInsert, Payload: payload}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected continuation chain to reassemble into 1 entry, got %d", len(entries))
	}
	if len(entries[0].Payload) != len(payload) {
		t.Fatalf("expected reassembled payload length %d, got %d", len(payload), len(entries[0].Payload))
	}
	for i := range payload {
		if entries[0].Payload[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d", i)
		}
	}
}

func TestReadAllStopsAtTornSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, Config{Path: path})

	if _, err := w.AppendNoWait(&Entry{TxID: 1, Op: OpInsert, Payload: []byte("good")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := w.AppendNoWait(&Entry{TxID: 1, Op: OpInsert, Payload: []byte("also-good")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	w.Close()

	// Corrupt the second slot's checksum region to simulate a torn write.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, SlotSize+48); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected scan to stop after the first good entry, got %d entries", len(entries))
	}
}

func TestGroupCommitSharesOneFsync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, Config{
		Path:               path,
		GroupCommitEnabled: true,
		GroupCommitMaxSize: 8,
		GroupCommitMaxWait: 50 * time.Millisecond,
	})

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(tx uint64) {
			_, err := w.Commit(&Entry{TxID: tx, Op: OpCommit})
			results <- err
		}(uint64(i + 1))
	}
	for i := 0; i < 3; i++ {
		if err := <-results; err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	if w.FsyncCount() != 1 {
		t.Fatalf("expected exactly 1 fsync for a batched group, got %d", w.FsyncCount())
	}
}

func TestCommitWithoutGroupCommitFsyncsEveryTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	w := openTestWAL(t, Config{Path: path, GroupCommitEnabled: false})

	for i := 0; i < 3; i++ {
		if _, err := w.Commit(&Entry{TxID: uint64(i + 1), Op: OpCommit}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	if w.FsyncCount() != 3 {
		t.Fatalf("expected 1 fsync per commit without group commit, got %d", w.FsyncCount())
	}
}

func TestSetNextLSNAdvancesCounter(t *testing.T) {
	w := openTestWAL(t, Config{})
	w.SetNextLSN(100)
	if w.NextLSN() != 100 {
		t.Fatalf("expected NextLSN to be 100, got %d", w.NextLSN())
	}
}
