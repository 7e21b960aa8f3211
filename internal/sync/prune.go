package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvsync/kvsync/internal/manifest"
	"github.com/kvsync/kvsync/internal/store"
)

// Pruner removes remote keys that the reference manifest no longer
// mentions. It is deliberately separate from the sync engine: a prune
// only ever runs when invoked on its own, never as part of a sync.
type Pruner struct {
	store        store.Store
	manifestPath string
	concurrency  int
	progress     Progress
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithPruneConcurrency sets the delete worker count.
func WithPruneConcurrency(n int) PrunerOption {
	return func(p *Pruner) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPruneProgress attaches a progress reporter.
func WithPruneProgress(pr Progress) PrunerOption {
	return func(p *Pruner) {
		if pr != nil {
			p.progress = pr
		}
	}
}

// NewPruner wires a pruner over the given store and reference manifest.
func NewPruner(st store.Store, manifestPath string, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		store:        st,
		manifestPath: manifestPath,
		concurrency:  DefaultConcurrency,
		progress:     nopProgress{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrunePlan lists what a prune would delete. Candidates are the remote
// keys absent from the manifest, sorted for stable output.
type PrunePlan struct {
	RemoteKeys store.KeySet
	Referenced store.KeySet
	Candidates []string
}

// Plan reads the reference manifest and lists the remote namespace.
// A missing manifest yields ErrNoReferenceManifest: without a record of
// the last successful sync there is no safe notion of "unreferenced".
// A corrupt manifest aborts with manifest.ErrCorrupt for the same reason.
func (p *Pruner) Plan(ctx context.Context) (*PrunePlan, error) {
	ix, err := manifest.Read(p.manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoReferenceManifest, p.manifestPath)
		}
		return nil, err
	}

	keys, err := p.store.List(ctx)
	if err != nil {
		return nil, &RemoteListError{Err: err}
	}
	remote := store.NewKeySet(keys...)
	referenced := manifest.Keys(ix)

	candidates := remote.Difference(referenced).ToSlice()
	slices.Sort(candidates)

	return &PrunePlan{
		RemoteKeys: remote,
		Referenced: referenced,
		Candidates: candidates,
	}, nil
}

// PruneResult summarizes one prune run. FailedKeys is sorted.
type PruneResult struct {
	RunID      string
	RemoteKeys int
	Referenced int
	Candidates []string
	Deleted    int
	Failed     int
	FailedKeys []string
	Duration   time.Duration
}

// Prune deletes every unreferenced remote key. Deletions are idempotent,
// so a failed or interrupted prune can simply be re-run.
func (p *Pruner) Prune(ctx context.Context) (*PruneResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}

	res := &PruneResult{
		RunID:      runID,
		RemoteKeys: plan.RemoteKeys.Cardinality(),
		Referenced: plan.Referenced.Cardinality(),
		Candidates: plan.Candidates,
	}

	slog.Info("prune", "op", "start", "run", runID,
		"remote", res.RemoteKeys, "referenced", res.Referenced, "candidates", len(plan.Candidates))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	p.progress.Begin(OpDelete, len(plan.Candidates))

	keysChan := make(chan string, len(plan.Candidates))

	wg.Add(p.concurrency)
	for range p.concurrency {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case key, ok := <-keysChan:
					if !ok {
						return
					}
					err := p.deleteOne(ctx, key)
					if err != nil {
						slog.Error("prune", "op", OpDelete, "key", key, "error", err)
					} else {
						slog.Info("prune", "op", OpDelete, "key", key)
						p.progress.Step(key, 0)
					}

					mu.Lock()
					if err != nil {
						res.Failed++
						res.FailedKeys = append(res.FailedKeys, key)
					} else {
						res.Deleted++
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, key := range plan.Candidates {
		keysChan <- key
	}
	close(keysChan)
	wg.Wait()

	p.progress.End(res.Failed)
	slices.Sort(res.FailedKeys)
	res.Duration = time.Since(start)

	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrPartialPrune, res.Failed, len(plan.Candidates))
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	slog.Info("prune", "op", "complete", "run", runID,
		"deleted", res.Deleted, "took", res.Duration.Round(time.Millisecond))

	return res, nil
}

// deleteOne removes a single key, tagging failures with the key so they
// stay attributable after aggregation.
func (p *Pruner) deleteOne(ctx context.Context, key string) error {
	if err := p.store.Delete(ctx, key); err != nil {
		return &DeleteError{Key: key, Err: err}
	}
	return nil
}
