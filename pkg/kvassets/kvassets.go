// Package kvassets serves synced assets back out of a key-value
// namespace. An application embeds or loads the manifest produced by a
// sync, resolves request paths to content-addressed keys through it and
// fetches the immutable values, optionally through an in-memory cache.
package kvassets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/manifest"
	"github.com/kvsync/kvsync/internal/utils"
)

// Record is one manifest entry.
type Record = assets.Record

// DefaultCacheSize bounds the value cache entry count.
const DefaultCacheSize = 128

var (
	// ErrEmptyPath means the request path was empty after trimming.
	ErrEmptyPath = errors.New("kvassets: empty path")

	// ErrNotFound means the manifest has no record for the path.
	ErrNotFound = errors.New("kvassets: asset not found")
)

// Fetcher gets values by key. The sync store backends satisfy it, and a
// serving app can plug in anything else that reads the same namespace.
type Fetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Option configures Assets.
type Option func(*Assets)

// WithCacheSize sets the value cache capacity. A size of zero or less
// disables caching.
func WithCacheSize(size int) Option {
	return func(a *Assets) {
		a.cacheSize = size
	}
}

// Assets resolves paths through a manifest and fetches their values.
// The manifest is decoded lazily on first use and exactly once.
type Assets struct {
	fetcher   Fetcher
	raw       []byte
	cacheSize int
	cache     *expirable.LRU[string, []byte]

	once      sync.Once
	index     assets.Index
	decodeErr error
}

// New builds an asset resolver over raw manifest bytes. The manifest is
// not decoded until the first lookup, so embedding a bad manifest fails
// on use, not at startup.
func New(manifestBytes []byte, fetcher Fetcher, opts ...Option) *Assets {
	a := &Assets{
		fetcher:   fetcher,
		raw:       manifestBytes,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.cacheSize > 0 {
		// Values are content addressed and immutable, so entries never
		// go stale. TTL 0 turns expiry off.
		a.cache = expirable.NewLRU[string, []byte](a.cacheSize, nil, 0)
	}

	return a
}

// Load reads the manifest from disk and builds a resolver over it.
func Load(manifestPath string, fetcher Fetcher, opts ...Option) (*Assets, error) {
	ix, err := manifest.Read(manifestPath)
	if err != nil {
		return nil, err
	}

	data, err := manifest.Encode(ix)
	if err != nil {
		return nil, err
	}

	return New(data, fetcher, opts...), nil
}

func (a *Assets) decode() (assets.Index, error) {
	a.once.Do(func() {
		a.index, a.decodeErr = manifest.Decode(a.raw)
	})
	return a.index, a.decodeErr
}

// Lookup resolves a request path to its manifest record. A leading slash
// is trimmed, so "/css/site.css" and "css/site.css" are the same asset.
func (a *Assets) Lookup(path string) (*Record, error) {
	ix, err := a.decode()
	if err != nil {
		return nil, err
	}

	norm := assets.NormPath(path)
	if norm == "" {
		return nil, ErrEmptyPath
	}

	rec, ok := ix.Get(norm)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, norm)
	}
	return rec, nil
}

// Get resolves path and fetches its value.
func (a *Assets) Get(ctx context.Context, path string) ([]byte, *Record, error) {
	rec, err := a.Lookup(path)
	if err != nil {
		return nil, nil, err
	}

	if a.cache != nil {
		if data, ok := a.cache.Get(rec.RemoteKey); ok {
			return data, rec, nil
		}
	}

	data, err := a.fetcher.Get(ctx, rec.RemoteKey)
	if err != nil {
		return nil, rec, fmt.Errorf("fetch %s: %w", rec.Path, err)
	}

	if a.cache != nil {
		a.cache.Add(rec.RemoteKey, data)
	}

	return data, rec, nil
}

// Paths lists every asset path in the manifest in lexical order.
func (a *Assets) Paths() ([]string, error) {
	ix, err := a.decode()
	if err != nil {
		return nil, err
	}
	return ix.Paths(), nil
}

// ContentType guesses the MIME type for an asset path by extension.
func ContentType(path string) string {
	return utils.DetectContentType(path)
}
