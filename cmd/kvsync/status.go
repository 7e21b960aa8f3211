package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/kvsync/kvsync/internal/manifest"
	kvsync "github.com/kvsync/kvsync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes against the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := buildConfig()
			if err != nil {
				return err
			}

			st, err := cfg.NewStore()
			if err != nil {
				return err
			}

			cache := openDigestCache(cmd, cfg)
			defer cache.Close()

			scanner := kvsync.NewScanner(cfg.AssetsDir, kvsync.NewIgnoreFile(cfg.AssetsDir, cfg.IgnoreFile), cache,
				kvsync.WithScanConcurrency(cfg.Concurrency))
			engine := kvsync.NewEngine(st, scanner, cfg.ManifestPath)

			plan, err := engine.Plan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "assets    %s (%d files)\n", cyan(cfg.AssetsDir), len(plan.Index))
			fmt.Fprintf(out, "backend   %s\n", cfg.Backend)
			fmt.Fprintf(out, "manifest  %s (%s)\n", cfg.ManifestPath, manifestState(cfg.ManifestPath))
			fmt.Fprintf(out, "remote    %d key(s)\n", plan.RemoteKeys.Cardinality())
			fmt.Fprintln(out)
			printPlanSummary(out, plan)
			return nil
		},
	}
}

func manifestState(path string) string {
	ix, err := manifest.Read(path)
	switch {
	case err == nil:
		return fmt.Sprintf("%d record(s)", len(ix))
	case errors.Is(err, fs.ErrNotExist):
		return "missing"
	case errors.Is(err, manifest.ErrCorrupt):
		return red("corrupt")
	default:
		return err.Error()
	}
}
