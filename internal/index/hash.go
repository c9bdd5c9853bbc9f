package index

import (
	"scdb/internal/codec"
)

// Hash is an open-addressed (linear probing) hash index with doubling
// resize at 0.75 load factor (spec §4.10), supporting multiple values per
// key (a "multi-map", for non-unique secondary indexes).
//
// Grounded on the teacher's pager/freelist.go bitmap-bucket sizing idiom
// for the doubling-on-threshold growth pattern; the teacher has no hash
// index of its own (its only index structure is the B+Tree), so the
// probing/resize scheme here follows the standard open-addressing
// algorithm in the shape the rest of the corpus uses for bounded,
// power-of-two-sized tables.
type Hash struct {
	cmp      *codec.Comparer
	buckets  []hashBucket
	count    int
}

type hashBucket struct {
	used   bool
	key    string
	values [][]byte
}

const initialHashBuckets = 16

// NewHash creates an empty hash index.
func NewHash(cmp *codec.Comparer) *Hash {
	return &Hash{cmp: cmp, buckets: make([]hashBucket, initialHashBuckets)}
}

func fnv1a(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func (h *Hash) slot(key string) int {
	k := h.cmp.Key(key)
	idx := int(fnv1a(k) % uint64(len(h.buckets)))
	for {
		b := &h.buckets[idx]
		if !b.used || h.cmp.Equal(b.key, key) {
			return idx
		}
		idx = (idx + 1) % len(h.buckets)
	}
}

// Put appends value under key, growing the table first if the load factor
// would exceed 0.75 after insertion.
func (h *Hash) Put(key string, value []byte) {
	if float64(h.count+1) > 0.75*float64(len(h.buckets)) {
		h.grow()
	}
	idx := h.slot(key)
	b := &h.buckets[idx]
	if !b.used {
		b.used = true
		b.key = key
		h.count++
	}
	b.values = append(b.values, value)
}

// Get returns all values stored under key.
func (h *Hash) Get(key string) ([][]byte, bool) {
	idx := h.slot(key)
	b := &h.buckets[idx]
	if !b.used {
		return nil, false
	}
	return b.values, true
}

// Delete removes all values under key.
func (h *Hash) Delete(key string) bool {
	idx := h.slot(key)
	b := &h.buckets[idx]
	if !b.used {
		return false
	}
	b.used = false
	b.values = nil
	h.count--
	h.rehashClusterAfterDelete(idx)
	return true
}

// rehashClusterAfterDelete re-inserts every entry in the probe cluster
// following a tombstone-free deletion at idx, the standard fix for linear
// probing (without this, deletions would break later lookups that probed
// past idx before insertion).
func (h *Hash) rehashClusterAfterDelete(idx int) {
	n := len(h.buckets)
	i := (idx + 1) % n
	for h.buckets[i].used {
		b := h.buckets[i]
		h.buckets[i] = hashBucket{}
		h.count--
		for _, v := range b.values {
			h.Put(b.key, v)
		}
		i = (i + 1) % n
	}
}

func (h *Hash) grow() {
	old := h.buckets
	h.buckets = make([]hashBucket, len(old)*2)
	h.count = 0
	for _, b := range old {
		if !b.used {
			continue
		}
		for _, v := range b.values {
			h.Put(b.key, v)
		}
	}
}

// Len returns the number of distinct keys stored.
func (h *Hash) Len() int { return h.count }
