// Package cache implements the bounded LRU page cache (spec §4.5): pages
// are keyed by (block id, page id), carry a pin count and dirty bit, and
// dirty evictions must be flushed through the storage provider before the
// frame is reused.
//
// Grounded on the teacher's internal/storage/pager.PageBufferPool (pin
// count + intrusive doubly-linked LRU list under one mutex) generalized
// from a single-block page id to the (block, page) composite key the spec
// requires. Capacity (a page count) is the cache's only configuration
// knob; it has no eviction-threshold or batch-size settings.
package cache

import (
	"fmt"
	"sync"
)

// Key identifies a cached page by owning block and page id.
type Key struct {
	BlockID uint64
	PageID  uint64
}

// WriteBack is called by the cache when a dirty frame must be persisted
// before it can be evicted or reused. It is supplied by the storage
// provider's write-behind queue.
type WriteBack func(k Key, buf []byte, lsn uint64) error

// frame is one in-memory cached page.
type frame struct {
	key    Key
	buf    []byte
	dirty  bool
	lsn    uint64
	pinned int
	prev   *frame
	next   *frame
}

// Config configures the page cache (spec §6: page_cache_capacity).
type Config struct {
	Capacity int // page count; 0 defaults to 10000
}

// Cache is a bounded LRU cache of fixed-size pages with pin/dirty
// tracking.
type Cache struct {
	mu       sync.Mutex
	capacity int
	frames   map[Key]*frame
	head     *frame // most recently used
	tail     *frame // least recently used
	writeBack WriteBack
}

// New creates a Cache. writeBack is invoked for any dirty frame the cache
// must evict or flush.
func New(cfg Config, writeBack WriteBack) *Cache {
	cap := cfg.Capacity
	if cap <= 0 {
		cap = 10000
	}
	return &Cache{
		capacity:  cap,
		frames:    make(map[Key]*frame, cap),
		writeBack: writeBack,
	}
}

// Guard represents a pinned page; callers must call Unpin when done.
type Guard struct {
	Key   Key
	Bytes []byte
}

// PinRead loads (on miss, via load) and pins a page for reading.
func (c *Cache) PinRead(k Key, load func(Key) ([]byte, error)) (Guard, error) {
	c.mu.Lock()
	if f, ok := c.frames[k]; ok {
		f.pinned++
		c.moveToFront(f)
		buf := f.buf
		c.mu.Unlock()
		return Guard{Key: k, Bytes: buf}, nil
	}
	c.mu.Unlock()

	buf, err := load(k)
	if err != nil {
		return Guard{}, err
	}
	return c.insertPinned(k, buf)
}

// PinWrite loads (on miss) and pins a page for writing. The caller mutates
// Guard.Bytes in place, then calls UnpinDirty to mark it modified.
func (c *Cache) PinWrite(k Key, load func(Key) ([]byte, error)) (Guard, error) {
	return c.PinRead(k, load)
}

func (c *Cache) insertPinned(k Key, buf []byte) (Guard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.frames[k]; ok {
		// Lost the race against a concurrent loader; prefer the existing frame.
		f.pinned++
		c.moveToFront(f)
		return Guard{Key: k, Bytes: f.buf}, nil
	}

	for len(c.frames) >= c.capacity {
		if !c.evictOneLocked() {
			break // everything pinned — cache grows past capacity rather than blocking
		}
	}
	f := &frame{key: k, buf: buf, pinned: 1}
	c.frames[k] = f
	c.pushFront(f)
	return Guard{Key: k, Bytes: buf}, nil
}

// Unpin releases a read pin without marking the page dirty.
func (c *Cache) Unpin(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.frames[k]; ok && f.pinned > 0 {
		f.pinned--
	}
}

// UnpinDirty releases a pin and marks the page modified at the given LSN.
func (c *Cache) UnpinDirty(k Key, lsn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.frames[k]; ok {
		if f.pinned > 0 {
			f.pinned--
		}
		f.dirty = true
		f.lsn = lsn
	}
}

// Put installs buf as the cached content for k without pinning it (used after an
// allocation or a fresh write that bypassed PinWrite's load callback).
func (c *Cache) Put(k Key, buf []byte, dirty bool, lsn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.frames[k]; ok {
		f.buf = buf
		f.dirty = dirty
		f.lsn = lsn
		c.moveToFront(f)
		return
	}
	for len(c.frames) >= c.capacity {
		if !c.evictOneLocked() {
			break
		}
	}
	f := &frame{key: k, buf: buf, dirty: dirty, lsn: lsn}
	c.frames[k] = f
	c.pushFront(f)
}

// Remove drops a key from the cache unconditionally (used when a block is
// deleted or a page freed).
func (c *Cache) Remove(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.frames[k]; ok {
		c.unlink(f)
		delete(c.frames, k)
	}
}

// DirtyKeys returns the keys of all currently dirty frames (used at
// checkpoint to flush everything).
func (c *Cache) DirtyKeys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Key
	for k, f := range c.frames {
		if f.dirty {
			out = append(out, k)
		}
	}
	return out
}

// FlushAll writes back every dirty frame via writeBack and clears their
// dirty bits. Used at checkpoint (spec §4.6) and Close.
func (c *Cache) FlushAll() error {
	for _, k := range c.DirtyKeys() {
		c.mu.Lock()
		f, ok := c.frames[k]
		if !ok || !f.dirty {
			c.mu.Unlock()
			continue
		}
		buf, lsn := f.buf, f.lsn
		c.mu.Unlock()

		if err := c.writeBack(k, buf, lsn); err != nil {
			return fmt.Errorf("flush page %+v: %w", k, err)
		}
		c.mu.Lock()
		if f, ok := c.frames[k]; ok {
			f.dirty = false
		}
		c.mu.Unlock()
	}
	return nil
}

// evictOneLocked evicts the least-recently-used unpinned frame, flushing
// it first if dirty. Returns false if every frame is pinned.
func (c *Cache) evictOneLocked() bool {
	for f := c.tail; f != nil; f = f.prev {
		if f.pinned != 0 {
			continue
		}
		if f.dirty {
			buf, lsn, key := f.buf, f.lsn, f.key
			c.mu.Unlock()
			err := c.writeBack(key, buf, lsn)
			c.mu.Lock()
			if err != nil {
				// Leave the frame in place; caller will retry eviction later.
				continue
			}
			// Re-fetch in case state changed while unlocked.
			f2, ok := c.frames[key]
			if !ok {
				continue
			}
			f = f2
		}
		c.unlink(f)
		delete(c.frames, f.key)
		return true
	}
	return false
}

func (c *Cache) pushFront(f *frame) {
	f.prev = nil
	f.next = c.head
	if c.head != nil {
		c.head.prev = f
	}
	c.head = f
	if c.tail == nil {
		c.tail = f
	}
}

func (c *Cache) unlink(f *frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		c.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		c.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (c *Cache) moveToFront(f *frame) {
	c.unlink(f)
	c.pushFront(f)
}

// Len returns the number of frames currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
