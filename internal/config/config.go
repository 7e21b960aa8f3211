// Package config holds the kvsync run configuration, loaded from
// kvsync.yaml, environment variables and flags.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kvsync/kvsync/internal/manifest"
	"github.com/kvsync/kvsync/internal/store"
	"github.com/kvsync/kvsync/internal/sync"
	"github.com/kvsync/kvsync/internal/utils"
)

// Storage backend names accepted in `backend`.
const (
	BackendS3        = "s3"
	BackendWorkersKV = "workerskv"
	BackendMemory    = "memory"
)

const (
	DefaultAssetsDir    = "public"
	DefaultManifestPath = "data/" + manifest.DefaultFileName
)

// Config is the full kvsync configuration.
type Config struct {
	// AssetsDir is the local tree to sync.
	AssetsDir string `mapstructure:"assets_dir" yaml:"assets_dir"`

	// ManifestPath is where successful syncs record their manifest.
	ManifestPath string `mapstructure:"manifest_path" yaml:"manifest_path"`

	// CachePath enables the sqlite digest cache when set.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path,omitempty"`

	// IgnoreFile overrides the ignore file name, .kvignore by default.
	IgnoreFile string `mapstructure:"ignore_file" yaml:"ignore_file,omitempty"`

	// Concurrency bounds parallel store operations.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// Backend selects the remote store: s3, workerskv or memory.
	Backend string `mapstructure:"backend" yaml:"backend"`

	S3        S3Config        `mapstructure:"s3" yaml:"s3,omitempty"`
	WorkersKV WorkersKVConfig `mapstructure:"workerskv" yaml:"workerskv,omitempty"`
}

// S3Config configures the S3 backend. Endpoint switches the client to
// path-style addressing for MinIO and other S3-compatible stores.
type S3Config struct {
	Bucket     string `mapstructure:"bucket" yaml:"bucket"`
	Region     string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey  string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey  string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Accelerate bool   `mapstructure:"accelerate" yaml:"accelerate,omitempty"`
}

// WorkersKVConfig configures the Cloudflare Workers KV backend.
type WorkersKVConfig struct {
	AccountID   string `mapstructure:"account_id" yaml:"account_id"`
	NamespaceID string `mapstructure:"namespace_id" yaml:"namespace_id"`
	APIToken    string `mapstructure:"api_token" yaml:"api_token"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Default returns a configuration with every general field at its default.
func Default() *Config {
	return &Config{
		AssetsDir:    DefaultAssetsDir,
		ManifestPath: DefaultManifestPath,
		Concurrency:  sync.DefaultConcurrency,
		Backend:      BackendS3,
	}
}

// Validate checks the configuration and resolves its paths in place.
func (c *Config) Validate() error {
	if c.AssetsDir == "" {
		return fmt.Errorf("`assets_dir` is required")
	}
	if c.ManifestPath == "" {
		return fmt.Errorf("`manifest_path` is required")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = sync.DefaultConcurrency
	}

	switch c.Backend {
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 `bucket` is required")
		}
	case BackendWorkersKV:
		if c.WorkersKV.AccountID == "" {
			return fmt.Errorf("workerskv `account_id` is required")
		}
		if c.WorkersKV.NamespaceID == "" {
			return fmt.Errorf("workerskv `namespace_id` is required")
		}
		if c.WorkersKV.APIToken == "" {
			return fmt.Errorf("workerskv `api_token` is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q, expected %s, %s or %s",
			c.Backend, BackendS3, BackendWorkersKV, BackendMemory)
	}

	var err error
	if c.AssetsDir, err = utils.ResolvePath(c.AssetsDir); err != nil {
		return fmt.Errorf("resolve assets_dir: %w", err)
	}
	if c.ManifestPath, err = utils.ResolvePath(c.ManifestPath); err != nil {
		return fmt.Errorf("resolve manifest_path: %w", err)
	}
	if c.CachePath != "" {
		if c.CachePath, err = utils.ResolvePath(c.CachePath); err != nil {
			return fmt.Errorf("resolve cache_path: %w", err)
		}
	}

	return nil
}

// NewStore builds the remote store the configuration selects.
func (c *Config) NewStore() (store.Store, error) {
	switch c.Backend {
	case BackendS3:
		return store.NewS3Store(&store.S3Config{
			BucketName:    c.S3.Bucket,
			Region:        c.S3.Region,
			AccessKey:     c.S3.AccessKey,
			SecretKey:     c.S3.SecretKey,
			Endpoint:      c.S3.Endpoint,
			UseAccelerate: c.S3.Accelerate,
		})
	case BackendWorkersKV:
		return store.NewKVStore(&store.KVConfig{
			AccountID:   c.WorkersKV.AccountID,
			NamespaceID: c.WorkersKV.NamespaceID,
			APIToken:    c.WorkersKV.APIToken,
			Endpoint:    c.WorkersKV.Endpoint,
		})
	case BackendMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	header := []byte("# kvsync configuration\n")
	return utils.WriteFileAtomic(path, append(header, data...), 0o644)
}
