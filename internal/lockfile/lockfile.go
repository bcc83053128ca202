// Package lockfile guards a workspace's codelens cache directory against
// concurrent writers from a second process. It writes server.lock.json
// alongside a gofrs/flock advisory lock, and detects stale locks left
// behind by a process that no longer exists.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	cerrors "github.com/codelens/codelens/internal/errors"
)

// Info is the JSON body of server.lock.json.
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Lock wraps an advisory file lock over a workspace's lock file.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a Lock for the given cache directory. The lock file is
// created at <dir>/server.lock.json.
func New(dir string) *Lock {
	path := filepath.Join(dir, "server.lock.json")
	return &Lock{path: path, flock: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// TryAcquire attempts to take the lock without blocking. If the lock is
// held by a process that is no longer alive, it is treated as stale and
// reclaimed. Returns a Fatal CodeLensError if a live process holds it.
func (l *Lock) TryAcquire() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		if info, readErr := l.read(); readErr == nil && !processAlive(info.PID) {
			_ = os.Remove(l.path)
			acquired, err = l.flock.TryLock()
			if err != nil {
				return fmt.Errorf("failed to acquire lock after stale reclaim: %w", err)
			}
		}
	}

	if !acquired {
		return cerrors.New(cerrors.ErrCodeFilePermission,
			fmt.Sprintf("workspace is locked by another running process (%s)", l.path), nil).
			WithKind(cerrors.KindFatal)
	}

	l.locked = true
	return l.write()
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() error {
	if !l.locked {
		return nil
	}
	_ = os.Remove(l.path)
	l.locked = false
	return l.flock.Unlock()
}

func (l *Lock) write() error {
	info := Info{PID: os.Getpid(), StartedAt: time.Now()}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

func (l *Lock) read() (Info, error) {
	var info Info
	data, err := os.ReadFile(l.path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

// processAlive reports whether pid names a currently running process.
// On Unix, os.FindProcess always succeeds, so signal 0 is sent to check
// that the process actually exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
