// Package provider implements the single-file storage provider (spec
// §4.4): the one open *os.File backing a database, page-granular reads
// and writes routed through the page cache and FSM, a write-behind queue
// for dirty pages whose worker batches on its own timer, and the background
// maintenance Scheduler (WAL checkpoint interval, registry flush
// coalescing, hybrid compaction cycle).
//
// Grounded on the teacher's internal/storage/pager/pager.go (Pager: one
// *os.File, ReadPage/WritePage routed through a PageBufferPool) for the
// file-provider shape, and internal/storage/scheduler.go (Scheduler: a
// github.com/robfig/cron/v3 *cron.Cron driving named recurring jobs) for
// the maintenance scheduler, repurposed from SQL-job scheduling to the
// three fixed internal maintenance jobs: checkpoint, registry flush and
// hybrid compaction.
package provider

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scdb/internal/cache"
	"scdb/internal/crypto"
	"scdb/internal/format"
)

// Config configures a Provider (spec §6 configuration options).
type Config struct {
	Path                 string
	PageSize             int
	PageCacheCapacity    int
	AllocStrategy        format.AllocStrategy
	WALPath              string
	CheckpointInterval   time.Duration
	WriteBehindInterval  time.Duration
	CompactionInterval   time.Duration
	RegistryFlushMutations int
}

// Provider owns the one on-disk file, the FSM, the page cache, and (when
// configured) the encryption envelope.
type Provider struct {
	cfg      Config
	mu       sync.Mutex
	f        *os.File
	fsm      *format.FSM
	cache    *cache.Cache
	envelope *crypto.Envelope
	header   *format.Header
	wbq      *writeBehindQueue

	generations map[uint64]uint64 // block id -> current generation, for nonce derivation
}

// Open opens (or creates, if absent) the single database file at cfg.Path.
func Open(cfg Config, header *format.Header, envelope *crypto.Envelope) (*Provider, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = format.DefaultPageSize
	}
	p := &Provider{
		cfg:         cfg,
		f:           f,
		fsm:         format.NewFSM(cfg.AllocStrategy),
		envelope:    envelope,
		header:      header,
		generations: make(map[uint64]uint64),
	}
	p.wbq = newWriteBehindQueue(cfg.WriteBehindInterval, p.writeBackNow)
	p.cache = cache.New(cache.Config{Capacity: cfg.PageCacheCapacity}, p.writeBackQueued)
	return p, nil
}

// PageSize reports the configured page size (implements heap.PageStore).
func (p *Provider) PageSize() int { return p.cfg.PageSize }

// AllocPage reserves one page, growing the file first if necessary
// (implements heap.PageStore).
func (p *Provider) AllocPage() (uint64, error) {
	start, ok, extendBy := p.fsm.Alloc(1)
	if !ok {
		if err := p.growFile(extendBy); err != nil {
			return 0, err
		}
		start, ok, _ = p.fsm.Alloc(1)
		if !ok {
			return 0, fmt.Errorf("allocate page: out of space after growth")
		}
	}
	return uint64(start), nil
}

func (p *Provider) growFile(byPages uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.fsm.TotalPages()
	newTotal := total + byPages
	if err := p.f.Truncate(int64(newTotal) * int64(p.cfg.PageSize)); err != nil {
		return fmt.Errorf("grow database file: %w", err)
	}
	p.fsm.Grow(format.PageID(total), byPages)
	return nil
}

// FreePage returns a page to the FSM (implements heap.PageStore).
func (p *Provider) FreePage(id uint64) error {
	p.fsm.Free(format.PageID(id), 1)
	p.cache.Remove(cache.Key{BlockID: 0, PageID: id})
	return nil
}

// ReadPage returns the decrypted page contents, loading from the page
// cache or the file (implements heap.PageStore).
func (p *Provider) ReadPage(id uint64) ([]byte, error) {
	k := cache.Key{BlockID: 0, PageID: id}
	g, err := p.cache.PinRead(k, p.loadPage)
	if err != nil {
		return nil, err
	}
	defer p.cache.Unpin(k)
	out := make([]byte, len(g.Bytes))
	copy(out, g.Bytes)
	return out, nil
}

// WritePage marks a page dirty in the cache; it becomes durable when the
// cache evicts it or at the next checkpoint (implements heap.PageStore).
func (p *Provider) WritePage(id uint64, buf []byte) error {
	k := cache.Key{BlockID: 0, PageID: id}
	p.mu.Lock()
	p.generations[id]++
	gen := p.generations[id]
	p.mu.Unlock()
	p.cache.Put(k, append([]byte(nil), buf...), true, gen)
	return nil
}

func (p *Provider) loadPage(k cache.Key) ([]byte, error) {
	// A page evicted from the cache may still be sitting in the
	// write-behind queue, not yet durably on disk; serve that copy rather
	// than racing the background worker to the file.
	if pending, ok := p.wbq.peek(k); ok {
		return append([]byte(nil), pending...), nil
	}

	buf := make([]byte, p.cfg.PageSize)
	n, err := p.f.ReadAt(buf, int64(k.PageID)*int64(p.cfg.PageSize))
	if err != nil && n == 0 {
		return buf, nil // never-written page reads as zeros
	}
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", k.PageID, err)
	}
	if p.envelope != nil && p.envelope.Enabled() {
		p.mu.Lock()
		gen := p.generations[k.PageID]
		p.mu.Unlock()
		plain, err := p.envelope.Open(k.PageID, gen, buf)
		if err != nil {
			return nil, fmt.Errorf("decrypt page %d: %w", k.PageID, err)
		}
		return plain, nil
	}
	return buf, nil
}

// writeBackQueued is the page cache's dirty-eviction callback. Rather than
// writing the page inline on whichever goroutine triggered the eviction
// (or FlushAll), it hands the page to the write-behind queue's background
// worker and returns immediately (spec §4.4).
func (p *Provider) writeBackQueued(k cache.Key, buf []byte, lsn uint64) error {
	p.wbq.enqueue(k, buf, lsn)
	return nil
}

// writeBackNow seals (if encryption is enabled) and durably writes one
// page. Called only from the write-behind worker goroutine.
func (p *Provider) writeBackNow(k cache.Key, buf []byte, lsn uint64) error {
	payload := buf
	if p.envelope != nil && p.envelope.Enabled() {
		payload = p.envelope.Seal(k.PageID, lsn, buf)
	}
	if _, err := p.f.WriteAt(payload, int64(k.PageID)*int64(p.cfg.PageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", k.PageID, err)
	}
	return nil
}

// Checkpoint flushes every dirty page, drains the write-behind queue, and
// fsyncs the file (spec §4.6). It returns the most recent I/O error the
// write-behind worker hit since the previous drain, if any.
func (p *Provider) Checkpoint() error {
	if err := p.cache.FlushAll(); err != nil {
		return err
	}
	if err := p.wbq.flush(); err != nil {
		return err
	}
	return p.f.Sync()
}

// Close flushes and closes the underlying file.
func (p *Provider) Close() error {
	if err := p.Checkpoint(); err != nil {
		return err
	}
	p.wbq.stop()
	return p.f.Close()
}

// CompactFunc is invoked by the scheduler's hybrid-compaction job.
type CompactFunc func(ctx context.Context) error

// Scheduler drives three background maintenance jobs: WAL checkpoint
// interval, registry flush coalescing, and the hybrid engine's compaction
// cycle. Write-behind batching is not one of them; the write-behind
// queue's own worker times it.
type Scheduler struct {
	cron *cron.Cron

	checkpoint  func() error
	registryFlush func() error
	compact     CompactFunc
}

// NewScheduler creates a Scheduler. Any of the callbacks may be nil, in
// which case that job is not registered.
func NewScheduler(checkpointInterval, registryFlushInterval, compactionInterval time.Duration,
	checkpoint, registryFlush func() error, compact CompactFunc) *Scheduler {
	s := &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		checkpoint:    checkpoint,
		registryFlush: registryFlush,
		compact:       compact,
	}
	if checkpoint != nil && checkpointInterval > 0 {
		s.addInterval(checkpointInterval, func() {
			if err := checkpoint(); err != nil {
				log.Printf("scdb: checkpoint failed: %v", err)
			}
		})
	}
	if registryFlush != nil && registryFlushInterval > 0 {
		s.addInterval(registryFlushInterval, func() {
			if err := registryFlush(); err != nil {
				log.Printf("scdb: registry flush failed: %v", err)
			}
		})
	}
	if compact != nil && compactionInterval > 0 {
		s.addInterval(compactionInterval, func() {
			if err := compact(context.Background()); err != nil {
				log.Printf("scdb: hybrid compaction failed: %v", err)
			}
		})
	}
	return s
}

func (s *Scheduler) addInterval(d time.Duration, job func()) {
	expr := fmt.Sprintf("@every %s", d.String())
	if _, err := s.cron.AddFunc(expr, job); err != nil {
		log.Printf("scdb: schedule %q: %v", expr, err)
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
