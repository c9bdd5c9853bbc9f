package index

import (
	"fmt"
	"testing"

	"golang.org/x/text/language"

	"scdb/internal/codec"
)

func TestHashPutGet(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	h.Put("a", []byte("1"))
	got, ok := h.Get("a")
	if !ok || len(got) != 1 || string(got[0]) != "1" {
		t.Fatalf("Get(%q) = (%v, %v)", "a", got, ok)
	}
}

func TestHashMultiMapAllowsDuplicateKeys(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	h.Put("a", []byte("1"))
	h.Put("a", []byte("2"))
	got, ok := h.Get("a")
	if !ok || len(got) != 2 {
		t.Fatalf("expected 2 values under key 'a', got %v", got)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", h.Len())
	}
}

func TestHashGetMissing(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	if _, ok := h.Get("missing"); ok {
		t.Fatal("expected Get of missing key to report false")
	}
}

func TestHashDelete(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	h.Put("a", []byte("1"))
	if !h.Delete("a") {
		t.Fatal("expected delete of existing key to succeed")
	}
	if _, ok := h.Get("a"); ok {
		t.Fatal("expected key to be gone after delete")
	}
	if h.Delete("a") {
		t.Fatal("expected delete of already-removed key to report false")
	}
}

func TestHashDeleteDoesNotBreakLaterProbeCluster(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	// Insert enough keys to force probe collisions within a small table,
	// then delete one and confirm every surviving key is still reachable.
	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("k%d", i)
		keys = append(keys, k)
		h.Put(k, []byte(k))
	}
	h.Delete(keys[2])
	for i, k := range keys {
		if i == 2 {
			continue
		}
		got, ok := h.Get(k)
		if !ok || string(got[0]) != k {
			t.Fatalf("key %q unreachable after deleting a different key from its cluster", k)
		}
	}
}

func TestHashGrowsAtLoadFactor(t *testing.T) {
	h := NewHash(codec.NewComparer(codec.CollationBinary, language.Und))
	const n = 200
	for i := 0; i < n; i++ {
		h.Put(fmt.Sprintf("key-%03d", i), []byte{byte(i)})
	}
	if h.Len() != n {
		t.Fatalf("expected %d distinct keys after growth, got %d", n, h.Len())
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%03d", i)
		got, ok := h.Get(k)
		if !ok || got[0][0] != byte(i) {
			t.Fatalf("key %q lost data after resize", k)
		}
	}
}
