// Package synclock provides the single-writer library lock: two concurrent
// syncs against the same library are not supported and must be prevented
// by the caller, which a simple lock file suffices for. This wraps
// github.com/theckman/go-flock, guarding on-disk state with an advisory
// file lock before mutating it.
package synclock

import (
	"github.com/pkg/errors"
	"github.com/theckman/go-flock"
)

// ErrLibraryBusy is returned by Acquire when another process already
// holds the lock.
var ErrLibraryBusy = errors.New("library is locked by another rv process")

// Lock guards a library directory against concurrent sync runs. The zero
// value is not usable; construct with New.
type Lock struct {
	f *flock.Flock
}

// New returns a Lock for the given library directory. The lock file lives
// alongside the library rather than inside it, so a removed/recreated
// library does not orphan stale lock state.
func New(libraryDir string) *Lock {
	return &Lock{f: flock.NewFlock(libraryDir + ".lock")}
}

// Acquire attempts to take the lock without blocking -- sync is meant to
// fail fast, not queue behind another in-flight sync.
func (l *Lock) Acquire() (func(), error) {
	locked, err := l.f.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring library lock")
	}
	if !locked {
		return nil, ErrLibraryBusy
	}
	return func() { _ = l.f.Unlock() }, nil
}

// Locked reports whether this Lock instance currently holds the lock.
func (l *Lock) Locked() bool {
	return l.f.Locked()
}
