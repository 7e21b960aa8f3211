package sync

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDigest = strings.Repeat("ab", 32)

func newTestCache(t *testing.T) *DigestCache {
	t.Helper()

	cache, err := OpenDigestCache(t.Context(), filepath.Join(t.TempDir(), "digests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return cache
}

func TestDigestCacheStoreLookup(t *testing.T) {
	cache := newTestCache(t)
	ctx := t.Context()

	_, ok := cache.Lookup(ctx, "a.txt", 5, 100)
	assert.False(t, ok, "empty cache should miss")

	require.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))

	digest, ok := cache.Lookup(ctx, "a.txt", 5, 100)
	assert.True(t, ok)
	assert.Equal(t, testDigest, digest)
}

func TestDigestCacheStaleEntry(t *testing.T) {
	cache := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))

	_, ok := cache.Lookup(ctx, "a.txt", 6, 100)
	assert.False(t, ok, "size change should miss")

	_, ok = cache.Lookup(ctx, "a.txt", 5, 101)
	assert.False(t, ok, "mtime change should miss")
}

func TestDigestCacheUpsert(t *testing.T) {
	cache := newTestCache(t)
	ctx := t.Context()
	other := strings.Repeat("cd", 32)

	require.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))
	require.NoError(t, cache.Store(ctx, "a.txt", other, 6, 200))

	digest, ok := cache.Lookup(ctx, "a.txt", 6, 200)
	assert.True(t, ok)
	assert.Equal(t, other, digest)
}

func TestDigestCacheForget(t *testing.T) {
	cache := newTestCache(t)
	ctx := t.Context()

	require.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))
	require.NoError(t, cache.Forget(ctx, "a.txt"))

	_, ok := cache.Lookup(ctx, "a.txt", 5, 100)
	assert.False(t, ok)
}

func TestDigestCacheNil(t *testing.T) {
	var cache *DigestCache
	ctx := t.Context()

	_, ok := cache.Lookup(ctx, "a.txt", 5, 100)
	assert.False(t, ok)
	assert.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))
	assert.NoError(t, cache.Close())
}

func TestDigestCacheReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digests.db")
	ctx := t.Context()

	cache, err := OpenDigestCache(ctx, path)
	require.NoError(t, err)
	require.NoError(t, cache.Store(ctx, "a.txt", testDigest, 5, 100))
	require.NoError(t, cache.Close())

	cache, err = OpenDigestCache(ctx, path)
	require.NoError(t, err)
	defer cache.Close()

	digest, ok := cache.Lookup(ctx, "a.txt", 5, 100)
	assert.True(t, ok)
	assert.Equal(t, testDigest, digest)
}
