// Package sync reconciles a local asset tree against a remote key-value
// store. A run scans and digests the tree, uploads every record whose
// content-addressed key is missing remotely, and then writes the manifest.
// The manifest is only written after every upload succeeded, so it never
// references content the store does not hold. Removal of unreferenced
// remote keys is a separate, explicitly invoked prune pass.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/manifest"
	"github.com/kvsync/kvsync/internal/store"
)

// DefaultConcurrency bounds parallel store operations per run.
const DefaultConcurrency = 4

// Engine runs sync passes against a single store and asset root.
type Engine struct {
	store        store.Store
	scanner      *Scanner
	manifestPath string
	concurrency  int
	progress     Progress
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency sets the upload worker count.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithProgress attaches a progress reporter.
func WithProgress(p Progress) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.progress = p
		}
	}
}

// NewEngine wires a sync engine over the given store and scanner.
// manifestPath is where successful runs record their reference manifest.
func NewEngine(st store.Store, scanner *Scanner, manifestPath string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        st,
		scanner:      scanner,
		manifestPath: manifestPath,
		concurrency:  DefaultConcurrency,
		progress:     nopProgress{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan is the read-only outcome of scan plus reconcile. It performs no
// writes, so it backs both dry runs and the upload phase.
type Plan struct {
	Index      assets.Index
	Reconciled *ReconcileResult
	RemoteKeys store.KeySet
}

// Plan scans the asset root, lists the remote namespace and partitions
// the records into pending and unchanged.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	ix, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := e.store.List(ctx)
	if err != nil {
		return nil, &RemoteListError{Err: err}
	}
	remote := store.NewKeySet(keys...)

	return &Plan{
		Index:      ix,
		Reconciled: Reconcile(ix, remote),
		RemoteKeys: remote,
	}, nil
}

// Result summarizes one sync run. The key and path lists are sorted so
// callers get stable output regardless of worker completion order.
type Result struct {
	RunID          string
	Scanned        int
	Uploaded       int
	UploadedBytes  int64
	UploadedKeys   []string
	Unchanged      int
	Failed         int
	FailedPaths    []string
	ManifestPath   string
	ManifestStatus manifest.WriteStatus
	Duration       time.Duration
}

// Sync runs one full pass: scan, reconcile, upload, manifest. On partial
// upload failure the manifest is left untouched and the error wraps
// ErrPartialUpload, so the failed records stay pending for the next run.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	slog.Info("sync", "op", "start", "run", runID, "root", e.scanner.Root())

	plan, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:        runID,
		Scanned:      len(plan.Index),
		Unchanged:    len(plan.Reconciled.Unchanged),
		ManifestPath: e.manifestPath,
	}

	pending := plan.Reconciled.Pending
	e.progress.Begin(OpUpload, len(pending))
	for _, r := range e.uploadPending(ctx, pending) {
		if r.err != nil {
			res.Failed++
			res.FailedPaths = append(res.FailedPaths, r.rec.Path)
		} else {
			res.Uploaded++
			res.UploadedBytes += r.rec.Size
			res.UploadedKeys = append(res.UploadedKeys, r.rec.RemoteKey)
		}
	}
	e.progress.End(res.Failed)
	slices.Sort(res.UploadedKeys)
	slices.Sort(res.FailedPaths)

	if res.Failed > 0 {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("%w: %d of %d", ErrPartialUpload, res.Failed, len(pending))
	}

	// A cancelled run can leave queued uploads unprocessed without any
	// recorded failure. The manifest must not cover those records.
	if err := ctx.Err(); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	status, err := manifest.Write(e.manifestPath, plan.Index)
	if err != nil {
		res.Duration = time.Since(start)
		return res, err
	}
	res.ManifestStatus = status
	res.Duration = time.Since(start)

	slog.Info("sync", "op", "complete", "run", runID,
		"scanned", res.Scanned, "uploaded", res.Uploaded, "unchanged", res.Unchanged,
		"manifest", string(status), "took", res.Duration.Round(time.Millisecond))

	return res, nil
}
