//go:build unix

package coord

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/starford/raido/internal/apperr"
)

// Flock coordinates across processes with flock(2) on a lock file per
// coordinated path, kept in a separate lock directory so that data files
// can be replaced by rename without losing the lock. Goroutines of the same
// process are serialised first by an in-process Local.
//
// A lock file lives as long as its record: WithRemoveLock unlinks it while
// still holding the lock, and every locker checks after acquiring that the
// file it locked is still the one in the lock directory.
type Flock struct {
	dir   string
	local *Local
}

// NewFlock creates lockDir if needed and returns a Flock coordinator.
func NewFlock(lockDir string) (*Flock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, apperr.NewIO("mkdir", lockDir, err)
	}
	return &Flock{dir: lockDir, local: NewLocal()}, nil
}

// WithReadLock implements Coordinator.
func (f *Flock) WithReadLock(path string, fn func() error) error {
	return f.local.WithReadLock(path, func() error {
		return f.flock(path, unix.LOCK_SH, false, fn)
	})
}

// WithWriteLock implements Coordinator.
func (f *Flock) WithWriteLock(path string, fn func() error) error {
	return f.local.WithWriteLock(path, func() error {
		return f.flock(path, unix.LOCK_EX, false, fn)
	})
}

// WithRemoveLock implements Coordinator. The lock file is removed once fn
// succeeds.
func (f *Flock) WithRemoveLock(path string, fn func() error) error {
	return f.local.WithWriteLock(path, func() error {
		return f.flock(path, unix.LOCK_EX, true, fn)
	})
}

func (f *Flock) lockPath(path string) string {
	return filepath.Join(f.dir, filepath.Base(path)+".lock")
}

func (f *Flock) flock(path string, how int, prune bool, fn func() error) error {
	lockPath := f.lockPath(path)
	for {
		lf, err := f.lockFile(path, lockPath, how)
		if err != nil {
			return err
		}
		if lf == nil {
			// Unlinked by a remover while we waited.
			continue
		}

		err = fn()
		if err == nil && prune {
			if rerr := os.Remove(lockPath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				err = apperr.NewIO("remove", f.lockPath(path), rerr)
			}
		}
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		_ = lf.Close()
		return err
	}
}

// lockFile opens and locks lockPath. It returns nil when the locked file
// is no longer linked at lockPath.
func (f *Flock) lockFile(path, lockPath string, how int) (*os.File, error) {
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, apperr.NewIO("lock", path, err)
	}
	fd := int(lf.Fd())
	for {
		err = unix.Flock(fd, how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = lf.Close()
		return nil, apperr.NewIO("lock", path, fmt.Errorf("flock: %w", err))
	}

	held, err := lf.Stat()
	if err == nil {
		var linked os.FileInfo
		linked, err = os.Stat(lockPath)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && !os.SameFile(held, linked)) {
			_ = unix.Flock(fd, unix.LOCK_UN)
			_ = lf.Close()
			return nil, nil
		}
	}
	if err != nil {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = lf.Close()
		return nil, apperr.NewIO("lock", path, err)
	}
	return lf, nil
}

var _ Coordinator = (*Flock)(nil)
