package sync

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"

	"github.com/kvsync/kvsync/internal/utils"
)

// RunLock serializes runs that share a manifest. Sync and prune both
// take it, so two processes can never race on the same reference file.
type RunLock struct {
	flock *flock.Flock
}

// NewRunLock builds the lock guarding manifestPath.
func NewRunLock(manifestPath string) *RunLock {
	return &RunLock{flock: flock.New(manifestPath + ".lock")}
}

// Acquire takes the lock without blocking. ErrRunLocked means another
// process holds it.
func (l *RunLock) Acquire() error {
	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (%s)", ErrRunLocked, l.flock.Path())
	}

	return nil
}

// Release drops the lock and removes the lock file.
func (l *RunLock) Release() error {
	// if this process hasn't taken the lock, then don't delete the lock file
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}

	return os.Remove(l.flock.Path())
}
