package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	kvsync "github.com/kvsync/kvsync/internal/sync"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete remote keys the manifest no longer references",
		Long: `Prune compares the remote namespace against the last written manifest
and deletes every key the manifest does not reference. Without --force it
only lists what would be deleted.

Prune after your deploys have picked up the new manifest. Keys still named
by a manifest that is live somewhere must not be deleted.`,
		Args: cobra.NoArgs,
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

			pruner := kvsync.NewPruner(st, cfg.ManifestPath,
				kvsync.WithPruneConcurrency(cfg.Concurrency),
				kvsync.WithPruneProgress(newProgressReporter(cmd.ErrOrStderr())),
			)

			force, _ := cmd.Flags().GetBool("force")
			out := cmd.OutOrStdout()

			if !force {
				plan, err := pruner.Plan(cmd.Context())
				if err != nil {
					return err
				}
				if len(plan.Candidates) == 0 {
					fmt.Fprintf(out, "%s nothing to prune (%d remote, %d referenced)\n",
						green("✓"), plan.RemoteKeys.Cardinality(), plan.Referenced.Cardinality())
					return nil
				}
				fmt.Fprintf(out, "%d key(s) would be deleted (%d remote, %d referenced)\n",
					len(plan.Candidates), plan.RemoteKeys.Cardinality(), plan.Referenced.Cardinality())
				for _, key := range plan.Candidates {
					fmt.Fprintf(out, "  %s %s\n", red("-"), key)
				}
				fmt.Fprintf(out, "\nRe-run with %s to delete them.\n", cyan("--force"))
				return nil
			}

			lock := kvsync.NewRunLock(cfg.ManifestPath)
			if err := lock.Acquire(); err != nil {
				return err
			}
			defer lock.Release()

			res, err := pruner.Prune(cmd.Context())
			if err != nil {
				if res != nil {
					for _, key := range res.FailedKeys {
						fmt.Fprintf(out, "  %s %s\n", red("✗"), key)
					}
				}
				return err
			}
			if res.Deleted == 0 {
				fmt.Fprintf(out, "%s nothing to prune (%d remote, %d referenced)\n",
					green("✓"), res.RemoteKeys, res.Referenced)
				return nil
			}
			fmt.Fprintf(out, "%s deleted %d key(s) in %s\n",
				green("✓"), res.Deleted, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "actually delete the unreferenced keys")

	return cmd
}
