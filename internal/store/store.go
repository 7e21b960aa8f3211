// Package store abstracts the remote key-value namespace that holds synced
// assets. Keys are opaque strings, values are immutable blobs: a put to an
// existing key rewrites the bytes it already holds.
package store

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrKeyNotFound is returned by Get for keys with no stored value.
var ErrKeyNotFound = errors.New("store: key not found")

// Store is the surface the sync engine needs from a remote key-value
// backend. Implementations are safe for concurrent use.
type Store interface {
	// List returns every key in the namespace.
	List(ctx context.Context) ([]string, error)

	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key. Re-putting an existing key succeeds.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// KeySet is a set of remote keys.
type KeySet = mapset.Set[string]

func NewKeySet(keys ...string) KeySet {
	return mapset.NewSet(keys...)
}
