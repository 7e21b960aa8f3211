package sync

import (
	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/store"
)

// BatchPending holds records whose remote key is absent from the store,
// keyed by remote key.
type BatchPending map[string]*assets.Record

// BatchUnchanged holds records already present remotely, keyed by remote key.
type BatchUnchanged map[string]*assets.Record

// ReconcileResult partitions a scanned index against the remote key set.
type ReconcileResult struct {
	Pending   BatchPending
	Unchanged BatchUnchanged
}

// HasChanges reports whether any record needs uploading.
func (r *ReconcileResult) HasChanges() bool {
	return len(r.Pending) > 0
}

// PendingBytes sums the sizes of all pending records.
func (r *ReconcileResult) PendingBytes() int64 {
	var total int64
	for _, rec := range r.Pending {
		total += rec.Size
	}
	return total
}

// Reconcile splits the index into records to upload and records the remote
// store already holds. Keys are content addressed, so presence alone decides
// the split. A nil remote set treats every record as pending.
func Reconcile(ix assets.Index, remote store.KeySet) *ReconcileResult {
	result := &ReconcileResult{
		Pending:   make(BatchPending),
		Unchanged: make(BatchUnchanged),
	}

	for _, rec := range ix {
		if remote != nil && remote.Contains(rec.RemoteKey) {
			result.Unchanged[rec.RemoteKey] = rec
		} else {
			result.Pending[rec.RemoteKey] = rec
		}
	}

	return result
}
