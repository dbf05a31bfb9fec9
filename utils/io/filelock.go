package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the name of the lock file created inside a locked directory.
const LockFileName = ".lock"

// FileLock is an exclusive, cross-process lock guarding a directory. Harness
// processes sharing a cache directory serialize on it.
type FileLock struct {
	lockFile *flock.Flock
	path     string
}

// NewFileLock creates a new lock for the directory dir. The lock file is
// created inside dir, which is created on Lock if it does not exist yet.
func NewFileLock(dir string) *FileLock {
	lockPath := filepath.Join(dir, LockFileName)

	return &FileLock{
		lockFile: flock.New(lockPath),
		path:     lockPath,
	}
}

// TryLock attempts to acquire the lock without blocking. It returns an error
// if another process holds it.
func (fl *FileLock) TryLock() error {
	if err := fl.ensureDir(); err != nil {
		return err
	}

	locked, err := fl.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire file lock at %s: %w", fl.path, err)
	}
	if !locked {
		return fmt.Errorf("cannot acquire exclusive lock on %s: another process is already using this resource", fl.path)
	}
	return nil
}

// Lock blocks until the lock is acquired or ctx is cancelled, retrying every
// retryDelay.
func (fl *FileLock) Lock(ctx context.Context, retryDelay time.Duration) error {
	if err := fl.ensureDir(); err != nil {
		return err
	}

	locked, err := fl.lockFile.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire file lock at %s: %w", fl.path, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock at %s", fl.path)
	}
	return nil
}

// Unlock releases the file lock.
func (fl *FileLock) Unlock() error {
	if err := fl.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to release file lock at %s: %w", fl.path, err)
	}
	return nil
}

// Path returns the path to the lock file.
func (fl *FileLock) Path() string {
	return fl.path
}

// IsLocked reports whether another holder currently owns the lock.
func (fl *FileLock) IsLocked() bool {
	if fl.lockFile.Locked() {
		return true
	}
	probe := flock.New(fl.path)
	locked, err := probe.TryLock()
	if err != nil {
		return true
	}
	if locked {
		_ = probe.Unlock()
		return false
	}
	return true
}

func (fl *FileLock) ensureDir() error {
	dir := filepath.Dir(fl.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for lock file %s: %w", fl.path, err)
	}
	return nil
}
