package format

import "testing"

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	r.Put(BlockEntry{Name: "heap.orders", Type: BlockTypeHeap, Offset: 512, Length: 4096})

	e, ok := r.Get("heap.orders")
	if !ok {
		t.Fatal("expected entry to be found after Put")
	}
	if e.Offset != 512 || e.Length != 4096 {
		t.Fatalf("unexpected entry: %+v", e)
	}

	r.Remove("heap.orders")
	if _, ok := r.Get("heap.orders"); ok {
		t.Fatal("expected entry to be gone after Remove")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Put(BlockEntry{Name: "idx.orders.pk", Type: BlockTypeIndex})
	r.Put(BlockEntry{Name: "idx.orders.customer", Type: BlockTypeIndex})
	r.Put(BlockEntry{Name: "heap.orders", Type: BlockTypeHeap})

	got := r.List("idx.orders.")
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
}

func TestRegistryDirtyAndFlushThreshold(t *testing.T) {
	r := NewRegistry()
	if r.Dirty() {
		t.Fatal("fresh registry should not be dirty")
	}
	r.Put(BlockEntry{Name: "a"})
	if !r.Dirty() {
		t.Fatal("expected dirty after a mutation")
	}
	if r.NeedsFlush(5) {
		t.Fatal("should not need flush before threshold mutations")
	}
	for i := 0; i < 5; i++ {
		r.Put(BlockEntry{Name: "b"})
	}
	if !r.NeedsFlush(5) {
		t.Fatal("expected flush to be needed once the mutation threshold is crossed")
	}
	r.MarkFlushed()
	if r.Dirty() || r.NeedsFlush(5) {
		t.Fatal("expected clean state after MarkFlushed")
	}
}

func TestRegistryMarshalLoadRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Put(BlockEntry{Name: "heap.orders", Type: BlockTypeHeap, Offset: 1024, Length: 2048})
	r.Put(BlockEntry{Name: "fsm", Type: BlockTypeFSM, Offset: 512, Length: 256})

	buf, sum := r.Marshal(4096)

	r2 := NewRegistry()
	if err := r2.Load(buf, sum); err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := r2.Get("heap.orders")
	if !ok || e.Offset != 1024 || e.Length != 2048 {
		t.Fatalf("unexpected entry after load: %+v", e)
	}
	if r2.Dirty() {
		t.Fatal("freshly loaded registry should not be dirty")
	}
}

func TestRegistryLoadRejectsChecksumMismatch(t *testing.T) {
	r := NewRegistry()
	r.Put(BlockEntry{Name: "a", Type: BlockTypeHeap})
	buf, sum := r.Marshal(4096)
	buf[10] ^= 0xFF

	r2 := NewRegistry()
	if err := r2.Load(buf, sum); err == nil {
		t.Fatal("expected checksum mismatch to be rejected")
	}
}
