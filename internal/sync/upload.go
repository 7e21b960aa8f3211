package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/kvsync/kvsync/internal/assets"
)

// uploadResult tallies one finished upload attempt.
type uploadResult struct {
	rec *assets.Record
	err error
}

// uploadPending pushes every pending record to the store with a bounded
// worker pool. It drains the whole batch regardless of individual
// failures and returns the per-record outcomes.
func (e *Engine) uploadPending(ctx context.Context, batch BatchPending) []uploadResult {
	if len(batch) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make([]uploadResult, 0, len(batch))
	)

	processUpload := func(ctx context.Context, rec *assets.Record) {
		err := e.uploadOne(ctx, rec)
		if err != nil {
			slog.Error("sync", "op", OpUpload, "path", rec.Path, "error", err)
		} else {
			slog.Info("sync", "op", OpUpload, "path", rec.Path, "size", humanize.Bytes(uint64(rec.Size)))
			e.progress.Step(rec.Path, rec.Size)
		}

		mu.Lock()
		results = append(results, uploadResult{rec: rec, err: err})
		mu.Unlock()
	}

	var wg sync.WaitGroup
	recsChan := make(chan *assets.Record, len(batch))

	// Start worker goroutines
	wg.Add(e.concurrency)
	for range e.concurrency {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return // Context cancelled
				case rec, ok := <-recsChan:
					if !ok {
						return // Channel closed
					}
					processUpload(ctx, rec)
				}
			}
		}()
	}

	// Send records to the channel
	for _, rec := range batch {
		recsChan <- rec
	}
	close(recsChan) // Close channel to signal no more records

	// Wait for all worker goroutines to finish processing
	wg.Wait()

	return results
}

// uploadOne reads the file, verifies it still matches the scanned digest
// and puts it under the record's remote key. Re-verification keeps a file
// edited mid-run from landing under a stale content address.
func (e *Engine) uploadOne(ctx context.Context, rec *assets.Record) error {
	absPath := filepath.Join(e.scanner.Root(), filepath.FromSlash(rec.Path))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return &UploadError{Path: rec.Path, Key: rec.RemoteKey, Err: err}
	}

	if digest := assets.DigestBytes(data); digest != rec.Digest {
		return &UploadError{
			Path: rec.Path,
			Key:  rec.RemoteKey,
			Err:  fmt.Errorf("content changed during sync: digest %s, expected %s", digest, rec.Digest),
		}
	}

	if err := e.store.Put(ctx, rec.RemoteKey, data); err != nil {
		return &UploadError{Path: rec.Path, Key: rec.RemoteKey, Err: err}
	}

	return nil
}
