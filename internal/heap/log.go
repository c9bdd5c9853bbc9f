package heap

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// logRecordHeader precedes every record in the append-only segment file:
//
//	[0:8]  RecordID.PageID (here: monotonic record id)
//	[8:10] Slot generation (incremented on update; the latest generation at
//	       a given id is the live version, grounded on the teacher's
//	       storage/mvcc.go version-stamped row model)
//	[10]   Tombstone flag
//	[11:15] Payload length (uint32 LE)
const logHeaderSize = 15

// AppendLogHeap is the append-only log storage engine (spec §4.8):
// inserts/updates/deletes are appended as new versioned records; VACUUM
// compacts by rewriting only the latest live version of each id into a
// fresh segment.
//
// Grounded on the teacher's internal/storage/backend_disk.go (each table
// persisted as a sequential on-disk stream, reloaded into an in-memory
// index) and internal/storage/pager/gc.go's reachability-driven VACUUM,
// adapted here to a simpler "keep latest generation per id" compaction
// since there is no page-reachability graph in a pure append log.
type AppendLogHeap struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	index    map[uint64]logLoc // id -> latest offset/length/generation
	gen      map[uint64]uint16
	ids      idGen
	liveSize int64
	fileSize int64
}

type logLoc struct {
	offset     int64
	length     int64
	generation uint16
	tombstone  bool
}

// NewAppendLogHeap opens or creates the segment file at path and replays
// it to rebuild the in-memory index (spec §4.8: "reopen must reconstruct
// the live set by replaying the log").
func NewAppendLogHeap(path string) (*AppendLogHeap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log heap: %w", err)
	}
	h := &AppendLogHeap{path: path, f: f, index: make(map[uint64]logLoc), gen: make(map[uint64]uint16)}
	if err := h.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

func (h *AppendLogHeap) replay() error {
	var off int64
	for {
		hdr := make([]byte, logHeaderSize)
		n, err := h.f.ReadAt(hdr, off)
		if n < logHeaderSize || err != nil {
			break
		}
		id := binary.LittleEndian.Uint64(hdr[0:8])
		genv := binary.LittleEndian.Uint16(hdr[8:10])
		tomb := hdr[10] != 0
		plen := int64(binary.LittleEndian.Uint32(hdr[11:15]))
		recOff := off
		off += logHeaderSize + plen

		if existing, ok := h.index[id]; !ok || genv >= existing.generation {
			h.index[id] = logLoc{offset: recOff, length: logHeaderSize + plen, generation: genv, tombstone: tomb}
		}
		if id > h.ids.next {
			h.ids.next = id
		}
		if g := h.gen[id]; genv >= g {
			h.gen[id] = genv
		}
	}
	h.fileSize = off
	for _, loc := range h.index {
		if !loc.tombstone {
			h.liveSize += loc.length
		}
	}
	return nil
}

func (h *AppendLogHeap) appendLocked(id uint64, generation uint16, tombstone bool, payload []byte) (int64, int64, error) {
	hdr := make([]byte, logHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], id)
	binary.LittleEndian.PutUint16(hdr[8:10], generation)
	if tombstone {
		hdr[10] = 1
	}
	binary.LittleEndian.PutUint32(hdr[11:15], uint32(len(payload)))

	off := h.fileSize
	if _, err := h.f.WriteAt(hdr, off); err != nil {
		return 0, 0, err
	}
	if len(payload) > 0 {
		if _, err := h.f.WriteAt(payload, off+logHeaderSize); err != nil {
			return 0, 0, err
		}
	}
	length := int64(logHeaderSize + len(payload))
	h.fileSize += length
	return off, length, nil
}

func (h *AppendLogHeap) Insert(row []byte) (RecordID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.ids.next1()
	off, length, err := h.appendLocked(id, 0, false, row)
	if err != nil {
		return RecordID{}, err
	}
	h.index[id] = logLoc{offset: off, length: length, generation: 0}
	h.gen[id] = 0
	h.liveSize += length
	return RecordID{PageID: id}, nil
}

func (h *AppendLogHeap) Update(id RecordID, row []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, ok := h.index[id.PageID]
	if !ok || old.tombstone {
		return ErrNotFound()
	}
	g := h.gen[id.PageID] + 1
	off, length, err := h.appendLocked(id.PageID, g, false, row)
	if err != nil {
		return err
	}
	h.index[id.PageID] = logLoc{offset: off, length: length, generation: g}
	h.gen[id.PageID] = g
	h.liveSize += length // old version's bytes become reclaimable at VACUUM
	return nil
}

func (h *AppendLogHeap) Delete(id RecordID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	old, ok := h.index[id.PageID]
	if !ok || old.tombstone {
		return ErrNotFound()
	}
	g := h.gen[id.PageID] + 1
	off, length, err := h.appendLocked(id.PageID, g, true, nil)
	if err != nil {
		return err
	}
	h.index[id.PageID] = logLoc{offset: off, length: length, generation: g, tombstone: true}
	h.gen[id.PageID] = g
	return nil
}

// Restore re-appends row as the live version of id, regardless of
// whether id is currently tombstoned, absent, or live (used to undo a
// prior Delete, or to redo an Insert at its original id, when a batch
// transaction aborts or is replayed).
func (h *AppendLogHeap) Restore(id RecordID, row []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.gen[id.PageID] + 1
	off, length, err := h.appendLocked(id.PageID, g, false, row)
	if err != nil {
		return err
	}
	h.index[id.PageID] = logLoc{offset: off, length: length, generation: g}
	h.gen[id.PageID] = g
	if id.PageID > h.ids.next {
		h.ids.next = id.PageID
	}
	h.liveSize += length
	return nil
}

func (h *AppendLogHeap) Get(id RecordID) ([]byte, bool, error) {
	h.mu.Lock()
	loc, ok := h.index[id.PageID]
	h.mu.Unlock()
	if !ok || loc.tombstone {
		return nil, false, nil
	}
	buf := make([]byte, loc.length-logHeaderSize)
	if _, err := h.f.ReadAt(buf, loc.offset+logHeaderSize); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

func (h *AppendLogHeap) Scan(fn func(RecordID, []byte) bool) error {
	h.mu.Lock()
	locs := make(map[uint64]logLoc, len(h.index))
	for id, loc := range h.index {
		locs[id] = loc
	}
	h.mu.Unlock()

	for id, loc := range locs {
		if loc.tombstone {
			continue
		}
		buf := make([]byte, loc.length-logHeaderSize)
		if _, err := h.f.ReadAt(buf, loc.offset+logHeaderSize); err != nil {
			return err
		}
		if !fn(RecordID{PageID: id}, buf) {
			return nil
		}
	}
	return nil
}

// Vacuum rewrites only the latest live version of each id into a fresh
// segment file, then atomically renames it over the original (spec §4.8:
// "VACUUM reclaims space occupied by superseded versions and tombstones").
func (h *AppendLogHeap) Vacuum() (VacuumStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tmpPath := h.path + ".vacuum.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return VacuumStats{}, err
	}

	stats := VacuumStats{}
	newIndex := make(map[uint64]logLoc, len(h.index))
	var newOff int64
	for id, loc := range h.index {
		stats.ScannedRecords++
		if loc.tombstone {
			stats.ReclaimedBytes += loc.length
			continue
		}
		buf := make([]byte, loc.length-logHeaderSize)
		if _, err := h.f.ReadAt(buf, loc.offset+logHeaderSize); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return VacuumStats{}, err
		}
		hdr := make([]byte, logHeaderSize)
		binary.LittleEndian.PutUint64(hdr[0:8], id)
		binary.LittleEndian.PutUint16(hdr[8:10], h.gen[id])
		binary.LittleEndian.PutUint32(hdr[11:15], uint32(len(buf)))
		if _, err := tmp.WriteAt(hdr, newOff); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return VacuumStats{}, err
		}
		if len(buf) > 0 {
			if _, err := tmp.WriteAt(buf, newOff+logHeaderSize); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return VacuumStats{}, err
			}
		}
		newIndex[id] = logLoc{offset: newOff, length: loc.length, generation: h.gen[id]}
		newOff += loc.length
	}
	stats.ReclaimedBytes += h.fileSize - newOff

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return VacuumStats{}, err
	}
	tmp.Close()
	h.f.Close()
	if err := os.Rename(tmpPath, h.path); err != nil {
		return VacuumStats{}, err
	}
	f, err := os.OpenFile(h.path, os.O_RDWR, 0o644)
	if err != nil {
		return VacuumStats{}, err
	}
	h.f = f
	h.index = newIndex
	h.fileSize = newOff
	h.liveSize = newOff
	return stats, nil
}

func (h *AppendLogHeap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f.Close()
}
