package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrPartialUpload marks a run where at least one upload failed. The
	// manifest is not written, so failed paths stay pending next run.
	ErrPartialUpload = errors.New("sync: one or more uploads failed")

	// ErrPartialPrune marks a prune where at least one deletion failed.
	ErrPartialPrune = errors.New("prune: one or more deletions failed")

	// ErrNoReferenceManifest means prune was attempted without a readable
	// manifest from a previous successful sync.
	ErrNoReferenceManifest = errors.New("prune: no reference manifest")

	// ErrRunLocked means another process holds the run lock.
	ErrRunLocked = errors.New("sync: another run is in progress")
)

// ScanError reports a filesystem failure while enumerating the asset root.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ChecksumError reports a file that could not be read for digesting.
// Any checksum failure aborts the run before upload decisions are made.
type ChecksumError struct {
	Path string
	Err  error
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum %s: %v", e.Path, e.Err)
}

func (e *ChecksumError) Unwrap() error { return e.Err }

// RemoteListError reports a failed remote key listing.
type RemoteListError struct {
	Err error
}

func (e *RemoteListError) Error() string {
	return fmt.Sprintf("list remote keys: %v", e.Err)
}

func (e *RemoteListError) Unwrap() error { return e.Err }

// UploadError reports one failed upload.
type UploadError struct {
	Path string
	Key  string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// DeleteError reports one failed prune deletion.
type DeleteError struct {
	Key string
	Err error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Key, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }
