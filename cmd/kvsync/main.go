package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvsync/kvsync/internal/config"
	kvsync "github.com/kvsync/kvsync/internal/sync"
	"github.com/kvsync/kvsync/internal/utils"
	"github.com/kvsync/kvsync/internal/version"
)

const configFileName = "kvsync"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "kvsync",
		Short:   "Sync static assets into a key-value store under content-addressed keys",
		Version: version.Detailed(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(cmd); err != nil {
				return err
			}
			return loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default kvsync.yaml, then ~/.config/kvsync)")
	rootCmd.PersistentFlags().StringP("assets-dir", "d", config.DefaultAssetsDir, "asset directory to sync")
	rootCmd.PersistentFlags().StringP("manifest", "m", config.DefaultManifestPath, "manifest file path")
	rootCmd.PersistentFlags().String("backend", config.BackendS3, "storage backend (s3, workerskv, memory)")
	rootCmd.PersistentFlags().String("cache", "", "sqlite digest cache path (empty disables)")
	rootCmd.PersistentFlags().IntP("concurrency", "j", kvsync.DefaultConcurrency, "parallel store operations")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")

	rootCmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newPruneCmd(),
		newDumpCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	// config path
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".config", "kvsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	viper.BindPFlag("assets_dir", cmd.Flags().Lookup("assets-dir"))
	viper.BindPFlag("manifest_path", cmd.Flags().Lookup("manifest"))
	viper.BindPFlag("backend", cmd.Flags().Lookup("backend"))
	viper.BindPFlag("cache_path", cmd.Flags().Lookup("cache"))
	viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))

	// Keys without a flag must be registered for Unmarshal to see their env values.
	viper.SetDefault("ignore_file", "")
	viper.SetDefault("s3.bucket", "")
	viper.SetDefault("s3.region", "")
	viper.SetDefault("s3.access_key", "")
	viper.SetDefault("s3.secret_key", "")
	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.accelerate", false)
	viper.SetDefault("workerskv.account_id", "")
	viper.SetDefault("workerskv.namespace_id", "")
	viper.SetDefault("workerskv.api_token", "")
	viper.SetDefault("workerskv.endpoint", "")

	// Set up environment variables
	viper.SetEnvPrefix("KVSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return nil
}

// buildConfig materializes the validated run configuration from viper.
func buildConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command) error {
	levelName, _ := cmd.Flags().GetString("log-level")

	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", levelName)
	}

	// Logs go to stderr so stdout stays clean for command output.
	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handler := slog.Handler(stderrHandler)
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		if err := utils.EnsureParent(logFile); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = utils.NewMultiLogHandler(stderrHandler, fileHandler)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
