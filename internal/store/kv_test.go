package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount   = "test-account"
	testNamespace = "test-namespace"
	testToken     = "test-token"
)

// fakeKV emulates the Workers KV REST surface the client uses.
type fakeKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	pageSize int
	gotAuth  string
}

func newFakeKV(pageSize int) *fakeKV {
	return &fakeKV{
		values:   make(map[string][]byte),
		pageSize: pageSize,
	}
}

func (f *fakeKV) handler() http.Handler {
	prefix := fmt.Sprintf("/accounts/%s/storage/kv/namespaces/%s", testAccount, testNamespace)
	keysPath := prefix + "/keys"
	valuesPrefix := prefix + "/values/"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.gotAuth = r.Header.Get("Authorization")

		switch {
		case r.URL.Path == keysPath && r.Method == http.MethodGet:
			f.serveKeys(w, r)
		case strings.HasPrefix(r.URL.Path, valuesPrefix):
			key := strings.TrimPrefix(r.URL.Path, valuesPrefix)
			f.serveValue(w, r, key)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeKV) serveKeys(w http.ResponseWriter, r *http.Request) {
	keys := slices.Sorted(maps.Keys(f.values))

	start := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		fmt.Sscanf(c, "%d", &start)
	}
	end := min(start+f.pageSize, len(keys))

	cursor := ""
	if end < len(keys) {
		cursor = fmt.Sprintf("%d", end)
	}

	type keyName struct {
		Name string `json:"name"`
	}
	names := make([]keyName, 0, end-start)
	for _, k := range keys[start:end] {
		names = append(names, keyName{Name: k})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"errors":  []any{},
		"result":  names,
		"result_info": map[string]any{
			"cursor": cursor,
		},
	})
}

func (f *fakeKV) serveValue(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		data, ok := f.values[key]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"errors":  []map[string]any{{"code": 10009, "message": "key not found"}},
			})
			return
		}
		w.Write(data)

	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.values[key] = data
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": []any{}})

	case http.MethodDelete:
		if _, ok := f.values[key]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"errors":  []map[string]any{{"code": 10009, "message": "key not found"}},
			})
			return
		}
		delete(f.values, key)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "errors": []any{}})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newTestKVStore(t *testing.T, fake *fakeKV) *KVStore {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	kv, err := NewKVStore(&KVConfig{
		AccountID:   testAccount,
		NamespaceID: testNamespace,
		APIToken:    testToken,
		Endpoint:    server.URL,
	})
	require.NoError(t, err)
	return kv
}

func TestNewKVStore_Validation(t *testing.T) {
	_, err := NewKVStore(&KVConfig{APIToken: "t"})
	assert.Error(t, err)

	_, err = NewKVStore(&KVConfig{AccountID: "a", NamespaceID: "n"})
	assert.Error(t, err)
}

func TestKVStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKV(1000)
	kv := newTestKVStore(t, fake)

	key := "img/logo.png#2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	require.NoError(t, kv.Put(ctx, key, []byte("png-bytes")))

	data, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, kv.Delete(ctx, key))
	_, err = kv.Get(ctx, key)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting the now-absent key still succeeds.
	require.NoError(t, kv.Delete(ctx, key))

	assert.Equal(t, "Bearer "+testToken, fake.gotAuth)
}

func TestKVStore_GetMissing(t *testing.T) {
	kv := newTestKVStore(t, newFakeKV(1000))
	_, err := kv.Get(context.Background(), "nope#0000")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKVStore_ListPaginated(t *testing.T) {
	ctx := context.Background()
	fake := newFakeKV(2)
	kv := newTestKVStore(t, fake)

	want := []string{"a#1", "b#2", "c#3", "d#4", "e#5"}
	for _, k := range want {
		require.NoError(t, kv.Put(ctx, k, []byte("x")))
	}

	keys, err := kv.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, keys)
}

func TestKVStore_ListEmpty(t *testing.T) {
	kv := newTestKVStore(t, newFakeKV(1000))
	keys, err := kv.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKVStore_APIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 10001, "message": "invalid namespace"}},
		})
	}))
	defer server.Close()

	kv, err := NewKVStore(&KVConfig{
		AccountID:   testAccount,
		NamespaceID: testNamespace,
		APIToken:    testToken,
		Endpoint:    server.URL,
	})
	require.NoError(t, err)

	_, err = kv.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10001")
}
