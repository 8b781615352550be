package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrCycleInProgress is returned when another cycle holds the lock.
var ErrCycleInProgress = errors.New("delivery cycle already in progress")

// Locker guards a cycle.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// FileLock excludes overlapping cycles both within this process and across
// processes sharing the lock file. A flock held by this process is re-entrant,
// so the mutex is what separates two cycles of the same process.
type FileLock struct {
	mu    sync.Mutex
	flock *flock.Flock
}

// NewFileLock returns a lock file at path, creating its directory.
func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLock{flock: flock.New(path)}, nil
}

// TryLock acquires the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	ok, err := l.flock.TryLock()
	if err != nil || !ok {
		l.mu.Unlock()
		return false, err
	}
	return true, nil
}

// Unlock releases the file lock, then the mutex.
func (l *FileLock) Unlock() error {
	err := l.flock.Unlock()
	l.mu.Unlock()
	return err
}

// MemoryLock is a process-local Locker.
type MemoryLock struct {
	mu sync.Mutex
}

// TryLock acquires the lock without blocking.
func (l *MemoryLock) TryLock() (bool, error) {
	return l.mu.TryLock(), nil
}

// Unlock releases the lock.
func (l *MemoryLock) Unlock() error {
	l.mu.Unlock()
	return nil
}
