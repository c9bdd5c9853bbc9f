// Package index implements the two index structures named in spec §4.10:
// a bounded-fan-out B+Tree with leaf sibling links for range scans, and an
// open-addressed hash index with doubling resize.
//
// Grounded on the teacher's internal/storage/pager/btree.go (BTree: root
// page id, Get/findLeaf/sibling traversal, overflow-threshold payloads)
// and btree_page.go (leaf/internal node layout, FindLeafEntry). That
// implementation is page-oriented — nodes live in pager-managed pages
// addressed by PageID. This package keeps the same logical shape (bounded
// fan-out nodes, leaf sibling chain, collation-aware key comparison) but
// represents nodes as plain in-memory Go values, not page-cache buffers,
// rather than re-deriving the teacher's byte-exact slot layout, since
// spec §4.10 only constrains the tree's external operations and range-scan
// behavior, not its physical node encoding.
package index

import (
	"fmt"
	"sort"

	"scdb/internal/codec"
)

// DefaultOrder bounds a node's fan-out (spec §4.10: "bounded fan-out").
const DefaultOrder = 64

type btreeEntry struct {
	key   string
	value []byte
}

type btreeNode struct {
	leaf     bool
	entries  []btreeEntry   // leaf: key->value; internal: key->child separators
	children []*btreeNode   // internal only, len(children) == len(entries)+1
	next     *btreeNode     // leaf sibling link, for range scans
}

// BTree is an in-memory bounded-fan-out B+Tree keyed by collated strings.
type BTree struct {
	root  *btreeNode
	order int
	cmp   *codec.Comparer
	size  int
}

// New creates an empty B+Tree using cmp for key ordering (spec §4.10:
// indexes are collation-aware).
func New(cmp *codec.Comparer) *BTree {
	return &BTree{
		root:  &btreeNode{leaf: true},
		order: DefaultOrder,
		cmp:   cmp,
	}
}

// Len returns the number of keys stored.
func (t *BTree) Len() int { return t.size }

func (t *BTree) findLeaf(key string) *btreeNode {
	n := t.root
	for !n.leaf {
		i := sort.Search(len(n.entries), func(i int) bool {
			return t.cmp.Compare(n.entries[i].key, key) > 0
		})
		n = n.children[i]
	}
	return n
}

// Get looks up key, mirroring the teacher's BTree.Get (leaf search then
// exact-match scan within the leaf).
func (t *BTree) Get(key string) ([]byte, bool) {
	leaf := t.findLeaf(key)
	i := sort.Search(len(leaf.entries), func(i int) bool {
		return t.cmp.Compare(leaf.entries[i].key, key) >= 0
	})
	if i < len(leaf.entries) && t.cmp.Equal(leaf.entries[i].key, key) {
		return leaf.entries[i].value, true
	}
	return nil, false
}

// Put inserts or replaces key's value, splitting nodes as needed.
func (t *BTree) Put(key string, value []byte) {
	leaf := t.findLeaf(key)
	i := sort.Search(len(leaf.entries), func(i int) bool {
		return t.cmp.Compare(leaf.entries[i].key, key) >= 0
	})
	if i < len(leaf.entries) && t.cmp.Equal(leaf.entries[i].key, key) {
		leaf.entries[i].value = value
		return
	}
	leaf.entries = append(leaf.entries, btreeEntry{})
	copy(leaf.entries[i+1:], leaf.entries[i:])
	leaf.entries[i] = btreeEntry{key: key, value: value}
	t.size++

	if len(leaf.entries) > t.order {
		t.splitLeaf(leaf)
	}
}

// splitLeaf is a simplified single-level-rebalance split: since nodes are
// plain Go values (not page-pinned structures needing careful parent
// rewrites), a full B+Tree promotes the split key into a freshly grown
// path to the root, locating each parent with findParent and the child's
// position in it by a linear scan; this
// keeps the implementation correct without the page-allocation bookkeeping
// the teacher's on-disk variant needs.
func (t *BTree) splitLeaf(leaf *btreeNode) {
	mid := len(leaf.entries) / 2
	right := &btreeNode{leaf: true, entries: append([]btreeEntry(nil), leaf.entries[mid:]...), next: leaf.next}
	leaf.entries = leaf.entries[:mid]
	leaf.next = right

	t.insertIntoParent(leaf, right.entries[0].key, right)
}

func (t *BTree) insertIntoParent(left *btreeNode, sepKey string, right *btreeNode) {
	parent := t.findParent(t.root, left)
	if parent == nil {
		newRoot := &btreeNode{
			leaf:     false,
			entries:  []btreeEntry{{key: sepKey}},
			children: []*btreeNode{left, right},
		}
		t.root = newRoot
		return
	}
	i := 0
	for parent.children[i] != left {
		i++
	}
	parent.entries = append(parent.entries, btreeEntry{})
	copy(parent.entries[i+1:], parent.entries[i:])
	parent.entries[i] = btreeEntry{key: sepKey}
	parent.children = append(parent.children, nil)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = right

	if len(parent.entries) > t.order {
		t.splitInternal(parent)
	}
}

func (t *BTree) splitInternal(n *btreeNode) {
	mid := len(n.entries) / 2
	sepKey := n.entries[mid].key
	right := &btreeNode{
		leaf:     false,
		entries:  append([]btreeEntry(nil), n.entries[mid+1:]...),
		children: append([]*btreeNode(nil), n.children[mid+1:]...),
	}
	n.entries = n.entries[:mid]
	n.children = n.children[:mid+1]
	t.insertIntoParent(n, sepKey, right)
}

func (t *BTree) findParent(n *btreeNode, child *btreeNode) *btreeNode {
	if n.leaf {
		return nil
	}
	for _, c := range n.children {
		if c == child {
			return n
		}
	}
	for _, c := range n.children {
		if p := t.findParent(c, child); p != nil {
			return p
		}
	}
	return nil
}

// Delete removes key if present. Leaves are not rebalanced below a minimum
// occupancy (spec §4.10 does not require underflow merging; only that
// range scans remain correct after deletion, which a plain removal from a
// leaf's entry slice preserves).
func (t *BTree) Delete(key string) bool {
	leaf := t.findLeaf(key)
	i := sort.Search(len(leaf.entries), func(i int) bool {
		return t.cmp.Compare(leaf.entries[i].key, key) >= 0
	})
	if i < len(leaf.entries) && t.cmp.Equal(leaf.entries[i].key, key) {
		leaf.entries = append(leaf.entries[:i], leaf.entries[i+1:]...)
		t.size--
		return true
	}
	return false
}

// Range calls fn for every key in [start, end) in ascending collated
// order, walking the leaf sibling chain (spec §4.10: "leaf sibling links
// for range scans"). Stops early if fn returns false.
func (t *BTree) Range(start, end string, fn func(key string, value []byte) bool) {
	leaf := t.findLeaf(start)
	for leaf != nil {
		for _, e := range leaf.entries {
			if t.cmp.Compare(e.key, start) < 0 {
				continue
			}
			if end != "" && t.cmp.Compare(e.key, end) >= 0 {
				return
			}
			if !fn(e.key, e.value) {
				return
			}
		}
		leaf = leaf.next
	}
}

// firstLeaf descends leftmost, used by tests/inspection tooling.
func (t *BTree) firstLeaf() *btreeNode {
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	return n
}

// String renders a compact debug view (grounded on the teacher's
// pager/inspect.go debug dump style).
func (t *BTree) String() string {
	return fmt.Sprintf("BTree{order=%d size=%d}", t.order, t.size)
}
