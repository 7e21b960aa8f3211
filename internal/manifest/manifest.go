// Package manifest reads and writes the asset manifest, the durable record
// of the last fully successful sync. The file starts with a 4-byte magic and
// a format version byte, followed by a JSON payload of records sorted by
// path, so encoding the same index always yields identical bytes.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/utils"
)

// DefaultFileName is the conventional manifest file name.
const DefaultFileName = "assets.kvsm"

// Version is the current manifest format version.
const Version = 1

var magic = []byte("KVSM")

// ErrCorrupt marks a manifest that exists but cannot be trusted: bad magic,
// unsupported version, undecodable payload or inconsistent records.
var ErrCorrupt = errors.New("manifest corrupt")

// WriteStatus reports what Write did to the manifest file.
type WriteStatus string

const (
	// StatusGenerated means no manifest existed and one was created.
	StatusGenerated WriteStatus = "generated"
	// StatusUpdated means an existing manifest was replaced.
	StatusUpdated WriteStatus = "updated"
	// StatusUnchanged means the encoded bytes matched the existing file,
	// which was left untouched.
	StatusUnchanged WriteStatus = "unchanged"
)

type filePayload struct {
	Records []*assets.Record `json:"records"`
}

// Encode serializes the index. Records are ordered by path, so two indexes
// with equal content encode to byte-identical output.
func Encode(ix assets.Index) ([]byte, error) {
	data, err := json.Marshal(&filePayload{Records: ix.Records()})
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	buf := make([]byte, 0, len(magic)+1+len(data))
	buf = append(buf, magic...)
	buf = append(buf, byte(Version))
	buf = append(buf, data...)
	return buf, nil
}

// Decode parses and validates manifest bytes.
func Decode(data []byte) (assets.Index, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := data[len(magic)]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	var payload filePayload
	if err := json.Unmarshal(data[len(magic)+1:], &payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCorrupt, err)
	}

	ix := assets.NewIndex()
	for _, rec := range payload.Records {
		if err := validateRecord(rec); err != nil {
			return nil, err
		}
		if _, exists := ix[rec.Path]; exists {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrCorrupt, rec.Path)
		}
		ix.Set(rec)
	}
	return ix, nil
}

func validateRecord(rec *assets.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: null record", ErrCorrupt)
	}
	if rec.Path == "" || assets.NormPath(rec.Path) != rec.Path {
		return fmt.Errorf("%w: invalid path %q", ErrCorrupt, rec.Path)
	}
	if !assets.IsDigest(rec.Digest) {
		return fmt.Errorf("%w: invalid digest for %q", ErrCorrupt, rec.Path)
	}
	if rec.Size < 0 {
		return fmt.Errorf("%w: negative size for %q", ErrCorrupt, rec.Path)
	}
	if rec.RemoteKey != assets.RemoteKey(rec.Path, rec.Digest) {
		return fmt.Errorf("%w: remote key mismatch for %q", ErrCorrupt, rec.Path)
	}
	return nil
}

// Read loads and validates the manifest at path. A missing file surfaces the
// raw fs error so callers can distinguish absence from corruption.
func Read(path string) (assets.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ix, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ix, nil
}

// Write encodes the index to path atomically. When the encoded bytes match
// the existing file, the file is left untouched and StatusUnchanged is
// returned.
func Write(path string, ix assets.Index) (WriteStatus, error) {
	data, err := Encode(ix)
	if err != nil {
		return "", err
	}

	status := StatusGenerated
	if existing, err := os.ReadFile(path); err == nil {
		if bytes.Equal(existing, data) {
			return StatusUnchanged, nil
		}
		status = StatusUpdated
	}

	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return status, nil
}

// Keys returns the set of remote keys referenced by the index.
func Keys(ix assets.Index) mapset.Set[string] {
	return mapset.NewSet(ix.RemoteKeys()...)
}
