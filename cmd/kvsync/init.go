package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvsync/kvsync/internal/config"
	kvsync "github.com/kvsync/kvsync/internal/sync"
	"github.com/kvsync/kvsync/internal/utils"
)

const starterIgnoreFile = `# kvsync ignore rules (gitignore syntax)
# *.map
# drafts/
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter kvsync.yaml and asset directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			target := "."
			if len(args) == 1 {
				target = args[0]
			}

			// No Validate here. The starter config carries placeholder
			// credentials the user still has to fill in.
			cfg := config.Default()
			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("config unmarshal: %w", err)
			}
			fillPlaceholders(cfg)

			cfgPath := filepath.Join(target, "kvsync.yaml")
			if utils.FileExists(cfgPath) {
				return fmt.Errorf("%s already exists, not overwriting", cfgPath)
			}

			if err := utils.EnsureDir(target); err != nil {
				return err
			}
			if err := cfg.Save(cfgPath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("created"), cfgPath)

			assetsPath := cfg.AssetsDir
			if !filepath.IsAbs(assetsPath) {
				assetsPath = filepath.Join(target, assetsPath)
			}
			if err := utils.EnsureDir(assetsPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", green("created"), assetsPath)

			ignorePath := filepath.Join(assetsPath, kvsync.IgnoreFileName)
			if !utils.FileExists(ignorePath) {
				if err := os.WriteFile(ignorePath, []byte(starterIgnoreFile), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", green("created"), ignorePath)
			}

			fmt.Fprintf(out, "\nEdit %s with your %s settings, then run %s.\n",
				cyan(cfgPath), cfg.Backend, cyan("kvsync sync"))
			return nil
		},
	}
}

// fillPlaceholders substitutes example values for required backend settings
// that are still empty, so the saved file shows every key the user must edit.
func fillPlaceholders(cfg *config.Config) {
	switch cfg.Backend {
	case config.BackendS3:
		if cfg.S3.Bucket == "" {
			cfg.S3.Bucket = "your-bucket"
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
	case config.BackendWorkersKV:
		if cfg.WorkersKV.AccountID == "" {
			cfg.WorkersKV.AccountID = "your-account-id"
		}
		if cfg.WorkersKV.NamespaceID == "" {
			cfg.WorkersKV.NamespaceID = "your-namespace-id"
		}
		if cfg.WorkersKV.APIToken == "" {
			cfg.WorkersKV.APIToken = "your-api-token"
		}
	}
}
