package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kvsync/kvsync/internal/store"
)

func validKVConfig() *Config {
	cfg := Default()
	cfg.Backend = BackendWorkersKV
	cfg.WorkersKV = WorkersKVConfig{
		AccountID:   "acc",
		NamespaceID: "ns",
		APIToken:    "token",
	}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "public", cfg.AssetsDir)
	assert.Equal(t, "data/assets.kvsm", cfg.ManifestPath)
	assert.Empty(t, cfg.CachePath)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, BackendS3, cfg.Backend)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing assets dir",
			mutate:  func(c *Config) { c.AssetsDir = "" },
			wantErr: "assets_dir",
		},
		{
			name:    "missing manifest path",
			mutate:  func(c *Config) { c.ManifestPath = "" },
			wantErr: "manifest_path",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "ftp" },
			wantErr: "unknown backend",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Backend = BackendS3; c.S3.Bucket = "" },
			wantErr: "bucket",
		},
		{
			name:    "workerskv without token",
			mutate:  func(c *Config) { c.WorkersKV.APIToken = "" },
			wantErr: "api_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validKVConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := validKVConfig()
	cfg.Concurrency = 0
	cfg.CachePath = "~/cache/kvsync.db"

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Concurrency)
	assert.True(t, filepath.IsAbs(cfg.AssetsDir), "assets dir should be absolute")
	assert.True(t, filepath.IsAbs(cfg.ManifestPath))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "cache", "kvsync.db"), cfg.CachePath)
}

func TestValidateMemoryBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendMemory

	assert.NoError(t, cfg.Validate())
}

func TestNewStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = BackendMemory

		st, err := cfg.NewStore()
		require.NoError(t, err)
		assert.IsType(t, &store.MemoryStore{}, st)
	})

	t.Run("workerskv", func(t *testing.T) {
		st, err := validKVConfig().NewStore()
		require.NoError(t, err)
		assert.IsType(t, &store.KVStore{}, st)
	})

	t.Run("s3", func(t *testing.T) {
		cfg := Default()
		cfg.S3.Bucket = "assets"
		cfg.S3.Region = "us-east-1"

		st, err := cfg.NewStore()
		require.NoError(t, err)
		assert.IsType(t, &store.S3Store{}, st)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := Default()
		cfg.Backend = "ftp"

		_, err := cfg.NewStore()
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "kvsync.yaml")

	cfg := validKVConfig()
	cfg.CachePath = "data/cache.db"
	cfg.IgnoreFile = ".syncignore"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# kvsync configuration\n"))

	var loaded Config
	require.NoError(t, yaml.Unmarshal(data, &loaded))
	assert.Equal(t, cfg.AssetsDir, loaded.AssetsDir)
	assert.Equal(t, cfg.Backend, loaded.Backend)
	assert.Equal(t, cfg.WorkersKV, loaded.WorkersKV)
	assert.Equal(t, cfg.CachePath, loaded.CachePath)
	assert.Equal(t, cfg.IgnoreFile, loaded.IgnoreFile)
}
