package main

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/config"
	kvsync "github.com/kvsync/kvsync/internal/sync"
)

// watchSettleDelay coalesces multi-file rebuilds into a single run.
const watchSettleDelay = 500 * time.Millisecond

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload changed assets and write the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := buildConfig()
			if err != nil {
				return err
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			watch, _ := cmd.Flags().GetBool("watch")

			st, err := cfg.NewStore()
			if err != nil {
				return err
			}

			cache := openDigestCache(cmd, cfg)
			defer cache.Close()

			ig := kvsync.NewIgnoreFile(cfg.AssetsDir, cfg.IgnoreFile)
			scanner := kvsync.NewScanner(cfg.AssetsDir, ig, cache,
				kvsync.WithScanConcurrency(cfg.Concurrency))
			engine := kvsync.NewEngine(st, scanner, cfg.ManifestPath,
				kvsync.WithConcurrency(cfg.Concurrency),
				kvsync.WithProgress(newProgressReporter(cmd.ErrOrStderr())),
			)

			if dryRun {
				return printSyncPlan(cmd, engine)
			}

			// One run per manifest at a time. Watch mode holds the lock
			// for the whole session.
			lock := kvsync.NewRunLock(cfg.ManifestPath)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer lock.Release()

			res, err := engine.Sync(cmd.Context())
			if err != nil {
				if !watch {
					return err
				}
				// Watch mode keeps going. Failed uploads stay pending and
				// retry on the next change.
				slog.Error("sync", "error", err)
			} else {
				printSyncResult(cmd, res)
			}

			if !watch {
				return nil
			}
			return watchAndSync(cmd, cfg, ig, engine)
		},
	}

	cmd.Flags().Bool("dry-run", false, "report what would change without uploading")
	cmd.Flags().BoolP("watch", "w", false, "stay running and re-sync on changes")

	return cmd
}

// openDigestCache opens the sqlite digest cache when one is configured.
// An unopenable cache degrades to hashing every file instead of failing
// the run. The nil cache is a valid no-op, so callers need no nil checks.
func openDigestCache(cmd *cobra.Command, cfg *config.Config) *kvsync.DigestCache {
	if cfg.CachePath == "" {
		return nil
	}
	cache, err := kvsync.OpenDigestCache(cmd.Context(), cfg.CachePath)
	if err != nil {
		slog.Warn("digest cache unavailable", "path", cfg.CachePath, "error", err)
		return nil
	}
	return cache
}

func printSyncPlan(cmd *cobra.Command, engine *kvsync.Engine) error {
	plan, err := engine.Plan(cmd.Context())
	if err != nil {
		return err
	}
	printPlanSummary(cmd.OutOrStdout(), plan)
	return nil
}

func printPlanSummary(out io.Writer, plan *kvsync.Plan) {
	rec := plan.Reconciled
	if !rec.HasChanges() {
		fmt.Fprintf(out, "%s %d file(s) up to date, nothing to upload\n", green("✓"), len(plan.Index))
		return
	}

	pending := make([]*assets.Record, 0, len(rec.Pending))
	for _, r := range rec.Pending {
		pending = append(pending, r)
	}
	slices.SortFunc(pending, func(a, b *assets.Record) int {
		return cmp.Compare(a.Path, b.Path)
	})

	fmt.Fprintf(out, "%d file(s) to upload (%s), %d unchanged\n",
		len(pending), humanize.Bytes(uint64(rec.PendingBytes())), len(rec.Unchanged))
	for _, r := range pending {
		fmt.Fprintf(out, "  %s %s (%s)\n", cyan("+"), r.Path, humanize.Bytes(uint64(r.Size)))
	}
}

func printSyncResult(cmd *cobra.Command, res *kvsync.Result) {
	out := cmd.OutOrStdout()
	if res.Uploaded == 0 {
		fmt.Fprintf(out, "%s %d file(s) up to date\n", green("✓"), res.Scanned)
	} else {
		fmt.Fprintf(out, "%s uploaded %d of %d file(s) (%s) in %s\n",
			green("✓"), res.Uploaded, res.Scanned,
			humanize.Bytes(uint64(res.UploadedBytes)), res.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "  manifest %s (%s)\n", res.ManifestPath, res.ManifestStatus)
}

// watchAndSync blocks until the context is cancelled, re-running the
// engine whenever files under the asset root change.
func watchAndSync(cmd *cobra.Command, cfg *config.Config, ig *kvsync.Ignore, engine *kvsync.Engine) error {
	ctx := cmd.Context()

	watcher := kvsync.NewWatcher(cfg.AssetsDir)
	watcher.FilterPaths(func(path string) bool {
		rel, err := filepath.Rel(cfg.AssetsDir, path)
		if err != nil {
			return false
		}
		return !ig.ShouldInclude(filepath.ToSlash(rel))
	})
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "%s watching %s for changes\n", cyan("∞"), cfg.AssetsDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events():
			if !ok {
				return nil
			}
		}

		// Let the rest of a burst arrive before syncing.
		settle := time.NewTimer(watchSettleDelay)
	drain:
		for {
			select {
			case <-ctx.Done():
				settle.Stop()
				return nil
			case <-watcher.Events():
			case <-settle.C:
				break drain
			}
		}

		// Ignore rules may have changed along with the tree.
		ig.Load()

		res, err := engine.Sync(ctx)
		if err != nil {
			slog.Error("sync", "error", err)
			continue
		}
		printSyncResult(cmd, res)
	}
}
