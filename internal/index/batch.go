package index

// BatchUpdate buffers Put/Delete operations against a BTree or Hash so a
// bulk load can defer rebalancing cost, then apply or discard them in one
// step (spec §4.10: begin_batch_update/end_batch_update/cancel_batch_update).
//
// Grounded on the teacher's internal/storage/mvcc.go transaction-buffer
// pattern (stage writes, then commit or abort atomically), adapted here to
// index mutations instead of row versions.
type BatchUpdate struct {
	target interface {
		Put(key string, value []byte)
		Delete(key string) bool
	}
	ops []batchOp
}

type batchOp struct {
	del   bool
	key   string
	value []byte
}

// BeginBatchUpdate starts buffering mutations against target.
func BeginBatchUpdate(target interface {
	Put(key string, value []byte)
	Delete(key string) bool
}) *BatchUpdate {
	return &BatchUpdate{target: target}
}

// Put stages an insert/replace.
func (b *BatchUpdate) Put(key string, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete stages a removal.
func (b *BatchUpdate) Delete(key string) {
	b.ops = append(b.ops, batchOp{del: true, key: key})
}

// EndBatchUpdate applies every staged operation, in order, to the target.
func (b *BatchUpdate) EndBatchUpdate() {
	for _, op := range b.ops {
		if op.del {
			b.target.Delete(op.key)
		} else {
			b.target.Put(op.key, op.value)
		}
	}
	b.ops = nil
}

// CancelBatchUpdate discards every staged operation without touching the
// target index.
func (b *BatchUpdate) CancelBatchUpdate() {
	b.ops = nil
}
