// Package scdb implements SharpCoreDB's storage engine core: a single-file
// embeddable store with ACID semantics via write-ahead logging, optional
// AES-256-GCM encryption at rest, and three interchangeable heap engines
// (paged, append-only log, hybrid). SQL parsing and execution are out of
// scope (see spec.md's Non-goals) — callers drive the engine through the
// typed Statement surface exposed here.
//
// Grounded on the teacher's internal/storage/db.go (DB: owns the catalog,
// dispatches to a StorageBackend, exposes a small lifecycle) for the
// facade shape, generalized to the state machine and WAL/crypto layers
// spec §4.12 adds.
package scdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"scdb/internal/catalog"
	"scdb/internal/codec"
	"scdb/internal/crypto"
	"scdb/internal/format"
	"scdb/internal/heap"
	"scdb/internal/index"
	"scdb/internal/provider"
	"scdb/internal/scerr"
	"scdb/internal/walog"

	"golang.org/x/text/language"
)

// State is the database's lifecycle state (spec §4.12/§5).
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateRecovering
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateRecovering:
		return "Recovering"
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// VacuumMode selects how aggressively Vacuum reclaims space (spec §6:
// vacuum_mode Incremental|Full).
type VacuumMode int

const (
	VacuumIncremental VacuumMode = iota
	VacuumFull
)

// Config holds the database's configuration options. It has no read-only,
// vacuum-mode, WAL-buffer-size, write-behind-batch-size or
// pre-allocation-size option; the vacuum mode is an argument to Vacuum.
type Config struct {
	Path     string
	Password string // empty disables encryption
	PageSize int

	PageCacheCapacity      int
	ExtentAllocationStrategy string // "BestFit" | "FirstFit" | "WorstFit"

	GroupCommitMaxSize int
	GroupCommitMaxWait time.Duration
	GroupCommitEnabled bool

	CheckpointInterval     time.Duration
	RegistryFlushInterval  time.Duration
	CompactionInterval     time.Duration
	WriteBehindInterval    time.Duration

	DefaultEngine catalog.EngineMode
}

func (c *Config) setDefaults() {
	if c.PageSize == 0 {
		c.PageSize = format.DefaultPageSize
	}
	if c.PageCacheCapacity == 0 {
		c.PageCacheCapacity = 10000
	}
	if c.GroupCommitMaxSize == 0 {
		c.GroupCommitMaxSize = 64
	}
	if c.GroupCommitMaxWait == 0 {
		c.GroupCommitMaxWait = time.Millisecond
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 5 * time.Second
	}
	if c.RegistryFlushInterval == 0 {
		c.RegistryFlushInterval = 100 * time.Millisecond
	}
	if c.CompactionInterval == 0 {
		c.CompactionInterval = 30 * time.Second
	}
	if c.WriteBehindInterval == 0 {
		c.WriteBehindInterval = 2 * time.Millisecond
	}
	if c.DefaultEngine == "" {
		c.DefaultEngine = catalog.EnginePaged
	}
}

// Validate checks Config for internally-consistent values, following the
// teacher's ParseStorageMode-style parse-and-validate helpers.
func (c *Config) Validate() error {
	if c.Path == "" {
		return scerr.New(scerr.KindInvalidArgument, "Config.Path must not be empty")
	}
	if _, err := format.ParseAllocStrategy(c.ExtentAllocationStrategy); err != nil {
		return scerr.Wrap(scerr.KindInvalidArgument, "invalid extent_allocation_strategy", err)
	}
	return nil
}

// Database is the top-level facade (spec §4.12): owns the table catalog,
// routes statements to heap engines, hosts the batch-update scope, and
// coordinates checkpoints.
type Database struct {
	cfg   Config
	state atomic.Int32

	mu       sync.Mutex
	header   *format.Header
	registry *format.Registry
	envelope *crypto.Envelope
	provider *provider.Provider
	wal      *walog.WAL
	cat      *catalog.Catalog
	sched    *provider.Scheduler

	engines map[string]heap.Engine
	indexes map[string]*index.BTree

	batchActive bool
	batchTxID   uint64
	batchUndo   []func()

	pendingReplay []pendingReplay

	preparedSeq uint64
	prepared    map[uint64]Statement
}

// Open creates or opens a database at cfg.Path, running crash recovery if
// the WAL contains committed-but-uncheckpointed entries (spec §4.6/§4.12).
func Open(cfg Config) (*Database, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := &Database{
		cfg:      cfg,
		cat:      catalog.New(),
		registry: format.NewRegistry(),
		engines:  make(map[string]heap.Engine),
		indexes:  make(map[string]*index.BTree),
		prepared: make(map[uint64]Statement),
	}
	db.state.Store(int32(StateOpening))

	strategy, _ := format.ParseAllocStrategy(cfg.ExtentAllocationStrategy)

	var envelope *crypto.Envelope
	encMode := format.EncryptionNone
	if cfg.Password != "" {
		encMode = format.EncryptionAES256GCM
	}
	header := format.NewHeader(uint32(cfg.PageSize), encMode)
	if cfg.Password != "" {
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		key := crypto.DeriveKey(cfg.Password, salt)
		var nonceBase [crypto.NonceSize]byte
		copy(nonceBase[:], salt[:])
		envelope, err = crypto.NewEnvelope(key, nonceBase, false)
		if err != nil {
			return nil, err
		}
	} else {
		var zeroKey [crypto.KeySize]byte
		var zeroNonce [crypto.NonceSize]byte
		envelope, _ = crypto.NewEnvelope(zeroKey, zeroNonce, true)
	}
	db.envelope = envelope
	db.header = header

	prov, err := provider.Open(provider.Config{
		Path:                cfg.Path,
		PageSize:            cfg.PageSize,
		PageCacheCapacity:   cfg.PageCacheCapacity,
		AllocStrategy:       strategy,
		WriteBehindInterval: cfg.WriteBehindInterval,
	}, header, envelope)
	if err != nil {
		return nil, err
	}
	db.provider = prov

	w, err := walog.Open(walog.Config{
		Path:               cfg.Path + ".wal",
		GroupCommitMaxSize: cfg.GroupCommitMaxSize,
		GroupCommitMaxWait: cfg.GroupCommitMaxWait,
		GroupCommitEnabled: cfg.GroupCommitEnabled,
	})
	if err != nil {
		return nil, err
	}
	db.wal = w

	db.state.Store(int32(StateRecovering))
	if err := db.recover(); err != nil {
		return nil, err
	}

	db.sched = provider.NewScheduler(
		cfg.CheckpointInterval, cfg.RegistryFlushInterval, cfg.CompactionInterval,
		db.checkpoint, db.flushRegistryIfDirty, db.compactHybridTables,
	)
	db.sched.Start()

	db.state.Store(int32(StateOpen))
	return db, nil
}

// pendingReplay is one committed-but-not-yet-reapplied WAL mutation,
// decoded from recover()'s scan and held until the table it targets is
// (re)created, since this revision does not persist the table directory
// to the file itself (see DESIGN.md) — a table's heap engine only exists
// once the caller calls CreateTable again after Open.
type pendingReplay struct {
	lsn   uint64
	op    walog.Op
	table string
	id    heap.RecordID
	row   []byte
}

// encodeMutationPayload packs the data a WAL Insert/Update/Delete entry
// needs to be redone: the target table, the record id, and (for
// Insert/Update) the row bytes (spec §3/§4.6/§4.7: "before/after images or
// operation data").
func encodeMutationPayload(table string, id heap.RecordID, row []byte) []byte {
	buf := make([]byte, 0, 4+len(table)+10+4+len(row))
	var tl [4]byte
	binary.LittleEndian.PutUint32(tl[:], uint32(len(table)))
	buf = append(buf, tl[:]...)
	buf = append(buf, table...)
	var idb [10]byte
	binary.LittleEndian.PutUint64(idb[0:8], id.PageID)
	binary.LittleEndian.PutUint16(idb[8:10], id.Slot)
	buf = append(buf, idb[:]...)
	var rl [4]byte
	binary.LittleEndian.PutUint32(rl[:], uint32(len(row)))
	buf = append(buf, rl[:]...)
	return append(buf, row...)
}

func decodeMutationPayload(buf []byte) (table string, id heap.RecordID, row []byte, err error) {
	if len(buf) < 4 {
		return "", heap.RecordID{}, nil, fmt.Errorf("walog: truncated mutation payload")
	}
	tl := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	if off+tl+10+4 > len(buf) {
		return "", heap.RecordID{}, nil, fmt.Errorf("walog: truncated mutation payload")
	}
	table = string(buf[off : off+tl])
	off += tl
	id.PageID = binary.LittleEndian.Uint64(buf[off : off+8])
	id.Slot = binary.LittleEndian.Uint16(buf[off+8 : off+10])
	off += 10
	rl := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+rl > len(buf) {
		return "", heap.RecordID{}, nil, fmt.Errorf("walog: truncated mutation payload")
	}
	return table, id, append([]byte(nil), buf[off:off+rl]...), nil
}

// recover scans the WAL and collects every committed Insert/Update/Delete
// entry into db.pendingReplay (spec §4.6/§4.7: "recovery must redo
// committed-but-uncheckpointed mutations"). A checkpoint truncates the WAL
// (see (*Database).checkpoint), so whatever recover finds here is exactly
// the window of work that may not have reached durable page storage yet —
// entries before the last checkpoint are gone from the file because the
// checkpoint that removed them first confirmed every dirty page was
// flushed (spec P10: recovery is idempotent, since replay only ever
// reinserts/reapplies a row already described by its own WAL entry).
func (db *Database) recover() error {
	entries, err := walog.ReadAll(db.cfg.Path + ".wal")
	if err != nil {
		return scerr.Wrap(scerr.KindCorrupt, "WAL recovery scan failed", err)
	}
	committed := make(map[uint64]bool)
	for _, e := range entries {
		if e.Op == walog.OpCommit {
			committed[e.TxID] = true
		}
	}
	var maxLSN uint64
	var pending []pendingReplay
	for _, e := range entries {
		if e.LSN > maxLSN {
			maxLSN = e.LSN
		}
		if !committed[e.TxID] {
			continue
		}
		switch e.Op {
		case walog.OpInsert, walog.OpUpdate, walog.OpDelete:
			table, id, row, derr := decodeMutationPayload(e.Payload)
			if derr != nil {
				continue // tolerate entries written before this payload format
			}
			pending = append(pending, pendingReplay{lsn: e.LSN, op: e.Op, table: table, id: id, row: row})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].lsn < pending[j].lsn })
	db.pendingReplay = pending
	db.wal.SetNextLSN(maxLSN + 1)
	return nil
}

// replayPending redoes every outstanding committed mutation targeting
// name against the just-built engine, then drops those entries (spec
// §4.6: "have recover() actually replay it"). A replayed insert tries
// Restore(p.id, p.row) first, which reinstates the row at its original id
// for the log/hybrid engines (their append-only front path has no
// allocation state to lose). A fresh PagedHeap cannot satisfy that: the
// slot index p.id.Slot only exists on a page that must already contain
// slotCount > p.id.Slot, which a never-flushed page read back as zeros
// after a crash does not — Restore fails there and the entry falls back
// to an ordinary Insert, accepting a new id (a known limitation, recorded
// in DESIGN.md, of redoing page-oriented storage without a page-image
// WAL).
func (db *Database) replayPending(name string, eng heap.Engine) {
	var remaining []pendingReplay
	for _, p := range db.pendingReplay {
		if p.table != name {
			remaining = append(remaining, p)
			continue
		}
		switch p.op {
		case walog.OpInsert:
			if _, found, _ := eng.Get(p.id); !found {
				if err := eng.Restore(p.id, p.row); err != nil {
					eng.Insert(p.row)
				}
				db.cat.UpdateRowCount(name, 1)
			}
		case walog.OpUpdate:
			if err := eng.Update(p.id, p.row); err != nil {
				eng.Restore(p.id, p.row)
			}
		case walog.OpDelete:
			if _, found, _ := eng.Get(p.id); found {
				eng.Delete(p.id)
				db.cat.UpdateRowCount(name, -1)
			}
		}
	}
	db.pendingReplay = remaining
}

// checkpoint runs the full checkpoint protocol (spec §4.6): flush every
// dirty page and drain the write-behind queue, write a checkpoint WAL
// entry, advance the header's last-checkpoint LSN, and truncate the WAL so
// the next recovery scan only has to replay what happened after this
// point (see recover's doc comment).
func (db *Database) checkpoint() error {
	if err := db.provider.Checkpoint(); err != nil {
		return scerr.Wrap(scerr.KindIO, "checkpoint flush failed", err)
	}
	lsn, err := db.wal.Commit(&walog.Entry{Op: walog.OpCheckpoint})
	if err != nil {
		return scerr.Wrap(scerr.KindIO, "checkpoint WAL entry failed", err)
	}
	db.mu.Lock()
	db.header.LastCheckpoint = format.LSN(lsn)
	db.mu.Unlock()
	return db.wal.Truncate()
}

func (db *Database) flushRegistryIfDirty() error {
	if !db.registry.NeedsFlush(50) && !db.registry.Dirty() {
		return nil
	}
	db.registry.MarkFlushed()
	return nil
}

func (db *Database) compactHybridTables() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, e := range db.engines {
		hy, ok := e.(*heap.HybridHeap)
		if !ok {
			continue
		}
		if _, err := hy.Compact(); err != nil {
			return fmt.Errorf("compact table %q: %w", name, err)
		}
	}
	return nil
}

// State returns the database's current lifecycle state.
func (db *Database) State() State { return State(db.state.Load()) }

func (db *Database) requireOpen() error {
	if db.State() != StateOpen {
		return scerr.New(scerr.KindNotReady, fmt.Sprintf("database is %s, not Open", db.State()))
	}
	return nil
}

// CreateTable registers a new table in the catalog and provisions its heap
// engine (and, if primaryKey is set, a B+Tree index on it).
func (db *Database) CreateTable(e catalog.Entry) error {
	if err := db.requireOpen(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if e.Engine == "" {
		e.Engine = db.cfg.DefaultEngine
	}
	if err := db.cat.CreateTable(e); err != nil {
		return err
	}

	eng, err := db.buildEngine(e)
	if err != nil {
		db.cat.DropTable(e.Name)
		return err
	}
	db.engines[e.Name] = eng
	if len(db.pendingReplay) > 0 {
		db.replayPending(e.Name, eng)
	}

	if e.PrimaryKey != "" {
		cmp := codec.NewComparer(codec.CollationBinary, language.Und)
		db.indexes[e.Name] = index.New(cmp)
	}
	return nil
}

func (db *Database) buildEngine(e catalog.Entry) (heap.Engine, error) {
	switch e.Engine {
	case catalog.EngineAppendLog:
		return heap.NewAppendLogHeap(db.cfg.Path + "." + e.Name + ".log")
	case catalog.EngineHybrid:
		front, err := heap.NewAppendLogHeap(db.cfg.Path + "." + e.Name + ".front")
		if err != nil {
			return nil, err
		}
		return heap.NewHybridHeap(front, heap.NewPagedHeap(db.provider)), nil
	default: // EnginePaged
		return heap.NewPagedHeap(db.provider), nil
	}
}

// DropTable removes a table and its engine/index.
func (db *Database) DropTable(name string) error {
	if err := db.requireOpen(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.cat.DropTable(name); err != nil {
		return err
	}
	if eng, ok := db.engines[name]; ok {
		eng.Close()
		delete(db.engines, name)
	}
	delete(db.indexes, name)
	return nil
}

// StmtOp enumerates the operations a Statement performs (spec §4.12's
// execute/execute_query surface, expressed as a typed call rather than
// parsed SQL text, since SQL-92 parsing is explicitly out of this core's
// scope — see DESIGN.md).
type StmtOp int

const (
	OpInsert StmtOp = iota
	OpUpdate
	OpDelete
	OpGet
	OpScan
)

// Statement is one unit of work against a table.
type Statement struct {
	Op    StmtOp
	Table string
	ID    heap.RecordID
	Row   []codec.Cell
}

// Execute runs a mutating statement (Insert/Update/Delete) as its own WAL
// transaction, unless a batch-update scope is open, in which case it joins
// the batch's single transaction (spec §4.12/§6: "every mutating statement
// is its own transaction unless enclosed in begin_batch_update/
// end_batch_update").
func (db *Database) Execute(ctx context.Context, stmt Statement) (heap.RecordID, error) {
	if err := db.requireOpen(); err != nil {
		return heap.RecordID{}, err
	}
	select {
	case <-ctx.Done():
		return heap.RecordID{}, scerr.Wrap(scerr.KindCancelled, "execute cancelled", ctx.Err())
	default:
	}

	db.mu.Lock()
	eng, ok := db.engines[stmt.Table]
	if !ok {
		db.mu.Unlock()
		return heap.RecordID{}, scerr.New(scerr.KindNotFound, fmt.Sprintf("table %q not found", stmt.Table))
	}

	if db.batchActive {
		id, err := db.applyMutation(eng, stmt, db.batchTxID, &db.batchUndo)
		db.mu.Unlock()
		return id, err
	}
	db.mu.Unlock()

	txID := db.wal.NextLSN()
	id, err := db.applyMutation(eng, stmt, txID, nil)
	if err != nil {
		return id, err
	}
	if _, err := db.wal.Commit(&walog.Entry{TxID: txID, Op: walog.OpCommit}); err != nil {
		return id, scerr.Wrap(scerr.KindIO, "commit failed", err)
	}
	return id, nil
}

// applyMutation performs one Insert/Update/Delete against eng, appends the
// WAL entry carrying its row data (spec §3/§4.6/§4.7: "before/after images
// or operation data, so recovery can redo it"), and — when undo is
// non-nil — records a closure that reverses the mutation, for batch
// rollback (spec §4.12: execute_batch/begin_batch_update are "a single WAL
// transaction"; a failure partway through must leave the heap as if none
// of the batch's statements ran). The caller supplies txID; every
// statement in one batch shares the same txID so recover() either redoes
// all of them or none.
func (db *Database) applyMutation(eng heap.Engine, stmt Statement, txID uint64, undo *[]func()) (heap.RecordID, error) {
	switch stmt.Op {
	case OpInsert:
		buf := codec.EncodeRow(stmt.Row, nil)
		id, err := eng.Insert(buf)
		if err != nil {
			return heap.RecordID{}, err
		}
		db.cat.UpdateRowCount(stmt.Table, 1)
		entry := &walog.Entry{TxID: txID, Op: walog.OpInsert, Payload: encodeMutationPayload(stmt.Table, id, buf)}
		if _, err := db.wal.AppendNoWait(entry); err != nil {
			eng.Delete(id)
			db.cat.UpdateRowCount(stmt.Table, -1)
			return heap.RecordID{}, scerr.Wrap(scerr.KindIO, "WAL append failed", err)
		}
		if undo != nil {
			table := stmt.Table
			*undo = append(*undo, func() {
				eng.Delete(id)
				db.cat.UpdateRowCount(table, -1)
			})
		}
		return id, nil

	case OpUpdate:
		before, found, err := eng.Get(stmt.ID)
		if err != nil {
			return heap.RecordID{}, err
		}
		if !found {
			return heap.RecordID{}, heap.ErrNotFound()
		}
		buf := codec.EncodeRow(stmt.Row, nil)
		if err := eng.Update(stmt.ID, buf); err != nil {
			return heap.RecordID{}, err
		}
		entry := &walog.Entry{TxID: txID, Op: walog.OpUpdate, Payload: encodeMutationPayload(stmt.Table, stmt.ID, buf)}
		if _, err := db.wal.AppendNoWait(entry); err != nil {
			eng.Restore(stmt.ID, before)
			return heap.RecordID{}, scerr.Wrap(scerr.KindIO, "WAL append failed", err)
		}
		if undo != nil {
			// Restore, not Update: a growing update may have relocated the
			// row (PagedHeap tombstones the old slot and reinserts
			// elsewhere when the new bytes don't fit in place), leaving
			// stmt.ID's slot dead — Update on it would fail, Restore
			// re-points the still-valid slot index at the prior bytes.
			id, beforeCopy := stmt.ID, append([]byte(nil), before...)
			*undo = append(*undo, func() { eng.Restore(id, beforeCopy) })
		}
		return stmt.ID, nil

	case OpDelete:
		before, found, err := eng.Get(stmt.ID)
		if err != nil {
			return heap.RecordID{}, err
		}
		if !found {
			return heap.RecordID{}, heap.ErrNotFound()
		}
		if err := eng.Delete(stmt.ID); err != nil {
			return heap.RecordID{}, err
		}
		db.cat.UpdateRowCount(stmt.Table, -1)
		entry := &walog.Entry{TxID: txID, Op: walog.OpDelete, Payload: encodeMutationPayload(stmt.Table, stmt.ID, nil)}
		if _, err := db.wal.AppendNoWait(entry); err != nil {
			eng.Restore(stmt.ID, before)
			db.cat.UpdateRowCount(stmt.Table, 1)
			return heap.RecordID{}, scerr.Wrap(scerr.KindIO, "WAL append failed", err)
		}
		if undo != nil {
			id, beforeCopy, table := stmt.ID, append([]byte(nil), before...), stmt.Table
			*undo = append(*undo, func() {
				eng.Restore(id, beforeCopy)
				db.cat.UpdateRowCount(table, 1)
			})
		}
		return stmt.ID, nil

	default:
		return heap.RecordID{}, scerr.New(scerr.KindInvalidArgument, "Execute only accepts Insert/Update/Delete")
	}
}

// Row is one decoded query result.
type Row struct {
	ID     heap.RecordID
	Values []codec.Cell
}

// ExecuteQuery runs a read-only statement (Get/Scan) and returns rows.
func (db *Database) ExecuteQuery(ctx context.Context, stmt Statement) ([]Row, error) {
	if err := db.requireOpen(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	eng, ok := db.engines[stmt.Table]
	db.mu.Unlock()
	if !ok {
		return nil, scerr.New(scerr.KindNotFound, fmt.Sprintf("table %q not found", stmt.Table))
	}

	switch stmt.Op {
	case OpGet:
		buf, found, err := eng.Get(stmt.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		cells, err := codec.DecodeRow(buf)
		if err != nil {
			return nil, scerr.Wrap(scerr.KindCorrupt, "row decode failed", err)
		}
		return []Row{{ID: stmt.ID, Values: cells}}, nil
	case OpScan:
		var out []Row
		var scanErr error
		err := eng.Scan(func(id heap.RecordID, buf []byte) bool {
			select {
			case <-ctx.Done():
				scanErr = scerr.Wrap(scerr.KindCancelled, "scan cancelled", ctx.Err())
				return false
			default:
			}
			cells, err := codec.DecodeRow(buf)
			if err != nil {
				scanErr = scerr.Wrap(scerr.KindCorrupt, "row decode failed", err)
				return false
			}
			out = append(out, Row{ID: id, Values: cells})
			return true
		})
		if err != nil {
			return nil, err
		}
		if scanErr != nil {
			return nil, scanErr
		}
		return out, nil
	default:
		return nil, scerr.New(scerr.KindInvalidArgument, "ExecuteQuery only accepts Get/Scan")
	}
}

// ExecuteBatch runs every statement in stmts inside one WAL transaction
// (spec §4.12: "execute_batch(sqls) (single WAL transaction)"). Every
// statement shares one txID and one undo stack: if any statement fails,
// every already-applied statement in this call is undone in reverse order
// and an abort record is written, so the batch leaves the heap exactly as
// it found it (spec §4.12/§6 scenario: a batch with a failing statement
// must not leave a partial effect).
func (db *Database) ExecuteBatch(ctx context.Context, stmts []Statement) error {
	if err := db.requireOpen(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	txID := db.wal.NextLSN()
	if _, err := db.wal.AppendNoWait(&walog.Entry{TxID: txID, Op: walog.OpBegin}); err != nil {
		return err
	}

	var undo []func()
	abort := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		db.wal.AppendNoWait(&walog.Entry{TxID: txID, Op: walog.OpAbort})
		return err
	}

	for _, stmt := range stmts {
		select {
		case <-ctx.Done():
			return abort(scerr.Wrap(scerr.KindCancelled, "batch cancelled", ctx.Err()))
		default:
		}
		eng, ok := db.engines[stmt.Table]
		if !ok {
			return abort(scerr.New(scerr.KindNotFound, fmt.Sprintf("table %q not found", stmt.Table)))
		}
		if _, err := db.applyMutation(eng, stmt, txID, &undo); err != nil {
			return abort(err)
		}
	}

	_, err := db.wal.Commit(&walog.Entry{TxID: txID, Op: walog.OpCommit})
	return err
}

// Prepare stores stmt's shape and returns a handle that ExecutePrepared can
// replay with different Row bindings (spec §4.12: "prepare(sql) → handle").
func (db *Database) Prepare(stmt Statement) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.preparedSeq++
	h := db.preparedSeq
	db.prepared[h] = stmt
	return h
}

// ExecutePrepared replays the statement registered under handle, with row
// substituted for the prepared statement's bindings.
func (db *Database) ExecutePrepared(ctx context.Context, handle uint64, row []codec.Cell) (heap.RecordID, error) {
	db.mu.Lock()
	stmt, ok := db.prepared[handle]
	db.mu.Unlock()
	if !ok {
		return heap.RecordID{}, scerr.New(scerr.KindNotFound, "unknown prepared statement handle")
	}
	stmt.Row = row
	return db.Execute(ctx, stmt)
}

// BeginBatchUpdate opens a batch-update scope: every row-level Execute call
// made while the scope is open joins the same staged WAL transaction and
// undo stack ExecuteBatch uses, rather than committing immediately, and
// catalog changes staged on the catalog are applied at EndBatchUpdate.
// CreateTable and DropTable still take effect at once, and row mutations
// maintain no index, so no index rebuild is deferred. Batch scopes are
// single-writer; calling
// this while one is already open is an error (spec §6: "nested batches are
// forbidden").
func (db *Database) BeginBatchUpdate() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.batchActive {
		return scerr.New(scerr.KindBusy, "a batch update is already in progress")
	}
	db.batchActive = true
	db.batchTxID = db.wal.NextLSN()
	db.batchUndo = nil
	db.wal.AppendNoWait(&walog.Entry{TxID: db.batchTxID, Op: walog.OpBegin})
	db.cat.BeginBatchUpdate()
	return nil
}

// EndBatchUpdate commits every row mutation staged since BeginBatchUpdate
// as one WAL transaction, applies the staged catalog changes, and closes
// the scope (spec §4.12/§6 scenario: "begin a batch of N inserts; kill the
// process before end_batch_update; reopen" — since no commit record was
// written, recover() skips the whole batch, so crashing here leaves none
// of the batch's rows behind).
func (db *Database) EndBatchUpdate() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.batchActive {
		return scerr.New(scerr.KindInvalidArgument, "no batch update in progress")
	}
	db.batchActive = false
	if _, err := db.wal.Commit(&walog.Entry{TxID: db.batchTxID, Op: walog.OpCommit}); err != nil {
		return scerr.Wrap(scerr.KindIO, "batch commit failed", err)
	}
	db.batchUndo = nil
	return db.cat.EndBatchUpdate()
}

// CancelBatchUpdate undoes every row mutation staged since
// BeginBatchUpdate (in reverse order), writes an abort record, and
// discards the staged catalog changes (spec §6: "writing an abort record;
// replay skips the entire batch").
func (db *Database) CancelBatchUpdate() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batchActive = false
	for i := len(db.batchUndo) - 1; i >= 0; i-- {
		db.batchUndo[i]()
	}
	db.batchUndo = nil
	db.wal.AppendNoWait(&walog.Entry{TxID: db.batchTxID, Op: walog.OpAbort})
	db.cat.CancelBatchUpdate()
}

// Vacuum reclaims space. Incremental mode runs each table's engine-native
// compaction (log/hybrid VACUUM); Full additionally forces a checkpoint
// first so the reclaim pass starts from a clean WAL (spec §4.12/§6).
func (db *Database) Vacuum(mode VacuumMode) error {
	if err := db.requireOpen(); err != nil {
		return err
	}
	if mode == VacuumFull {
		if err := db.checkpoint(); err != nil {
			return err
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, eng := range db.engines {
		if _, err := eng.Vacuum(); err != nil {
			return fmt.Errorf("vacuum table %q: %w", name, err)
		}
	}
	return nil
}

// Close flushes all state and releases the underlying file handles (spec
// §4.12/§5's Closing state).
func (db *Database) Close() error {
	if db.State() == StateClosed {
		return nil
	}
	db.state.Store(int32(StateClosing))
	db.sched.Stop()

	if err := db.checkpoint(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, eng := range db.engines {
		eng.Close()
	}
	if err := db.wal.Close(); err != nil {
		return err
	}
	if err := db.provider.Close(); err != nil {
		return err
	}
	db.state.Store(int32(StateClosed))
	return nil
}
