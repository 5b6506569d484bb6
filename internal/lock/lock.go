// Package lock implements cross-process mutual exclusion via an exclusive
// advisory lock on a sentinel file.
package lock

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/perconalab/readyset-scheduler/internal/errs"
)

// Lock holds an acquired advisory lock. The zero value is not usable;
// obtain one via Acquire.
type Lock struct {
	f *os.File
}

// Acquire attempts a non-blocking exclusive flock on path, creating the file
// if it does not exist. ok is false, with a nil error, when another process
// already holds the lock — contention is not a failure.
func Acquire(path string) (l *Lock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, errs.New(errs.Lock, path, errors.Wrap(err, "open lock file"))
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, errs.New(errs.Lock, path, errors.Wrap(err, "flock"))
	}

	return &Lock{f: f}, true, nil
}

// Release unlocks and closes the underlying file descriptor. Safe to call
// on every exit path; releasing twice is a no-op error that callers may
// ignore.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
