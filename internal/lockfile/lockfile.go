// Package lockfile guards the workspace against concurrent server
// instances using cross-process file locking. A single server instance
// owns a workspace root.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a cross-process advisory lock on the workspace root.
// Works on all platforms (Unix, Linux, macOS, Windows).
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock for the given workspace root. The lock file is
// created at <root>/.vibe.lock.
func New(root string) *Lock {
	lockPath := filepath.Join(root, ".vibe.lock")
	return &Lock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Acquire takes the lock without blocking. It fails when another
// server instance already owns the workspace.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("cannot create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("cannot acquire workspace lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("workspace is locked by another instance (lock file: %s)", l.path)
	}

	l.locked = true
	return nil
}

// Release releases the lock. Safe to call multiple times or on a lock
// that was never acquired.
func (l *Lock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("cannot release workspace lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
