package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/manifest"
	"github.com/kvsync/kvsync/internal/store"
)

// flakyDeleteStore fails deletes for selected keys.
type flakyDeleteStore struct {
	*store.MemoryStore
	failKeys map[string]bool
}

func (s *flakyDeleteStore) Delete(ctx context.Context, key string) error {
	if s.failKeys[key] {
		return errors.New("backend unavailable")
	}
	return s.MemoryStore.Delete(ctx, key)
}

// syncedFixture runs one successful sync over two files and then plants
// two orphan keys in the store.
func syncedFixture(t *testing.T, mem *store.MemoryStore) (manifestPath string, orphans []string) {
	t.Helper()

	engine, manifestPath := newTestEngine(t, mem, map[string]string{
		"a.txt": "hello",
		"b.txt": "world",
	})
	_, err := engine.Sync(t.Context())
	require.NoError(t, err)

	orphans = []string{
		assets.RemoteKey("a.txt", assets.DigestBytes([]byte("old a"))),
		assets.RemoteKey("gone.txt", assets.DigestBytes([]byte("gone"))),
	}
	for _, key := range orphans {
		require.NoError(t, mem.Put(t.Context(), key, []byte("x")))
	}

	return manifestPath, orphans
}

func TestPrunerPlanNoManifest(t *testing.T) {
	pruner := NewPruner(store.NewMemoryStore(), filepath.Join(t.TempDir(), manifest.DefaultFileName))

	_, err := pruner.Plan(t.Context())
	assert.ErrorIs(t, err, ErrNoReferenceManifest)

	_, err = pruner.Prune(t.Context())
	assert.ErrorIs(t, err, ErrNoReferenceManifest)
}

func TestPrunerPlanCorruptManifest(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), manifest.DefaultFileName)
	require.NoError(t, os.WriteFile(manifestPath, []byte("not a manifest"), 0o644))

	pruner := NewPruner(store.NewMemoryStore(), manifestPath)

	_, err := pruner.Plan(t.Context())
	assert.ErrorIs(t, err, manifest.ErrCorrupt)
}

func TestPrunerPlanCandidates(t *testing.T) {
	mem := store.NewMemoryStore()
	manifestPath, orphans := syncedFixture(t, mem)

	pruner := NewPruner(mem, manifestPath)
	plan, err := pruner.Plan(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 4, plan.RemoteKeys.Cardinality())
	assert.Equal(t, 2, plan.Referenced.Cardinality())
	assert.ElementsMatch(t, orphans, plan.Candidates)
	assert.IsIncreasing(t, plan.Candidates)
}

func TestPrunerPrune(t *testing.T) {
	mem := store.NewMemoryStore()
	manifestPath, _ := syncedFixture(t, mem)

	pruner := NewPruner(mem, manifestPath)
	res, err := pruner.Prune(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, mem.Len(), "referenced keys survive the prune")

	keyA := assets.RemoteKey("a.txt", assets.DigestBytes([]byte("hello")))
	_, err = mem.Get(t.Context(), keyA)
	assert.NoError(t, err)

	// A second prune finds nothing left to do.
	res, err = pruner.Prune(t.Context())
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Zero(t, res.Deleted)
}

func TestPrunerPartialFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	manifestPath, orphans := syncedFixture(t, mem)

	flaky := &flakyDeleteStore{
		MemoryStore: mem,
		failKeys:    map[string]bool{orphans[0]: true},
	}

	pruner := NewPruner(flaky, manifestPath, WithPruneConcurrency(2))
	res, err := pruner.Prune(t.Context())
	require.ErrorIs(t, err, ErrPartialPrune)

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{orphans[0]}, res.FailedKeys)

	_, err = mem.Get(t.Context(), orphans[0])
	assert.NoError(t, err, "failed key must still be present")

	// Deletion is idempotent, re-running finishes the job.
	flaky.failKeys = nil

	res, err = pruner.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, mem.Len())
}

func TestPrunerEmptyRemote(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), manifest.DefaultFileName)

	ix := assets.NewIndex()
	ix.Set(testRecord("a.txt", "hello"))
	_, err := manifest.Write(manifestPath, ix)
	require.NoError(t, err)

	pruner := NewPruner(store.NewMemoryStore(), manifestPath)
	res, err := pruner.Prune(t.Context())
	require.NoError(t, err)

	assert.Empty(t, res.Candidates)
	assert.Zero(t, res.Deleted)
}

func assertStoreKeys(t *testing.T, mem *store.MemoryStore, want ...string) {
	t.Helper()

	keys, err := mem.List(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, want, keys)
}

// TestSyncPruneLifecycle drives the full edit, sync and prune cycle and
// checks the remote key set after every step.
func TestSyncPruneLifecycle(t *testing.T) {
	mem := store.NewMemoryStore()
	engine, manifestPath := newTestEngine(t, mem, map[string]string{
		"a.txt": "hello",
		"b.txt": "world",
	})
	root := engine.scanner.Root()

	keyA1 := assets.RemoteKey("a.txt", assets.DigestBytes([]byte("hello")))
	keyA2 := assets.RemoteKey("a.txt", assets.DigestBytes([]byte("hello v2")))
	keyB := assets.RemoteKey("b.txt", assets.DigestBytes([]byte("world")))

	// First sync uploads both files.
	res, err := engine.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{keyA1, keyB}, res.UploadedKeys)
	assertStoreKeys(t, mem, keyA1, keyB)

	// Editing a.txt adds a second key for the same path. The superseded
	// key stays until a prune.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello v2"), 0o644))

	res, err = engine.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{keyA2}, res.UploadedKeys)
	assert.Equal(t, 1, res.Unchanged)
	assertStoreKeys(t, mem, keyA1, keyA2, keyB)

	pruner := NewPruner(mem, manifestPath)
	pres, err := pruner.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{keyA1}, pres.Candidates)
	assertStoreKeys(t, mem, keyA2, keyB)

	// Deleting b.txt locally only rewrites the manifest. Its key survives
	// until the next prune.
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	res, err = engine.Sync(t.Context())
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
	assert.Equal(t, manifest.StatusUpdated, res.ManifestStatus)
	assertStoreKeys(t, mem, keyA2, keyB)

	ix, err := manifest.Read(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, ix.Paths())

	pres, err = pruner.Prune(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{keyB}, pres.Candidates)
	assertStoreKeys(t, mem, keyA2)
}
