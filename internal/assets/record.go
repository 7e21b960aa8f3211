// Package assets defines the asset data model: normalized paths, content
// digests and the content-addressed remote keys derived from them.
package assets

import (
	"maps"
	"slices"
)

// Record describes one synced asset.
type Record struct {
	// Path is the slash-separated path relative to the asset root.
	Path string `json:"path"`

	// Digest is the lowercase hex SHA-256 of the file content.
	Digest string `json:"digest"`

	// Size is the file size in bytes at scan time.
	Size int64 `json:"size"`

	// ModTime is the file modification time in unix seconds at scan time.
	ModTime int64 `json:"modTime"`

	// RemoteKey is the derived content-addressed storage key.
	RemoteKey string `json:"remoteKey"`
}

// NewRecord builds a record for path with the given digest and stat info.
// The remote key is derived from path and digest.
func NewRecord(path, digest string, size, modTime int64) *Record {
	return &Record{
		Path:      path,
		Digest:    digest,
		Size:      size,
		ModTime:   modTime,
		RemoteKey: RemoteKey(path, digest),
	}
}

func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return *r == *other
}

// Index maps normalized relative paths to their records.
type Index map[string]*Record

func NewIndex() Index {
	return make(Index)
}

func (ix Index) Set(r *Record) {
	ix[r.Path] = r
}

func (ix Index) Get(path string) (*Record, bool) {
	r, ok := ix[path]
	return r, ok
}

// Paths returns all indexed paths in lexical order.
func (ix Index) Paths() []string {
	return slices.Sorted(maps.Keys(ix))
}

// Records returns all records ordered by path.
func (ix Index) Records() []*Record {
	records := make([]*Record, 0, len(ix))
	for _, path := range ix.Paths() {
		records = append(records, ix[path])
	}
	return records
}

// RemoteKeys returns the remote key of every record, ordered by path.
func (ix Index) RemoteKeys() []string {
	keys := make([]string, 0, len(ix))
	for _, path := range ix.Paths() {
		keys = append(keys, ix[path].RemoteKey)
	}
	return keys
}

func (ix Index) Equal(other Index) bool {
	return maps.EqualFunc(ix, other, (*Record).Equal)
}
