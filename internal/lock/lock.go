// Package lock guards a data directory against concurrent suggest processes.
//
// Writers take the exclusive lock and readers the shared one, so searches
// from several processes run side by side while an import or watch holds
// the store for itself. The lock file is <data_dir>/.lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FileName is the name of the lock file inside a data directory.
const FileName = ".lock"

// RetryDelay is how often a blocked Lock or RLock retries.
const RetryDelay = 50 * time.Millisecond

// ErrLocked is returned when the lock is held by another process and the
// context ends before it is released.
var ErrLocked = errors.New("data directory is locked by another process")

// FileLock is a cross-process lock on a data directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
	shared bool
}

// New creates a lock for dir. Nothing is created on disk until it is taken.
func New(dir string) *FileLock {
	path := filepath.Join(dir, FileName)
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock acquires the exclusive lock, retrying until ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	return l.acquire(ctx, false)
}

// RLock acquires the shared lock, retrying until ctx is done.
func (l *FileLock) RLock(ctx context.Context) error {
	return l.acquire(ctx, true)
}

func (l *FileLock) acquire(ctx context.Context, shared bool) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = l.flock.TryRLockContext(ctx, RetryDelay)
	} else {
		ok, err = l.flock.TryLockContext(ctx, RetryDelay)
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrLocked, l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, l.path)
	}

	l.locked = true
	l.shared = shared
	return nil
}

// TryLock attempts to acquire the exclusive lock without blocking.
// Returns false if another process holds the lock.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
		l.shared = false
	}
	return acquired, nil
}

// Unlock releases the lock. It is safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string { return l.path }

// IsLocked reports whether this FileLock currently holds the lock.
func (l *FileLock) IsLocked() bool { return l.locked }

// IsShared reports whether the held lock is the shared one.
func (l *FileLock) IsShared() bool { return l.locked && l.shared }
