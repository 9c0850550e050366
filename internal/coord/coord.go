// Package coord provides coordinated access to individual files: every
// read of a file's bytes runs under a shared lock and every write or
// remove under an exclusive lock on the same path.
package coord

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Coordinator serialises access to single files. fn runs while the lock
// for path is held; it must not take another lock on the same path.
// WithRemoveLock is an exclusive lock for removing path: once fn succeeds
// the coordinator discards whatever it kept for path.
type Coordinator interface {
	WithReadLock(path string, fn func() error) error
	WithWriteLock(path string, fn func() error) error
	WithRemoveLock(path string, fn func() error) error
}

// Local coordinates goroutines of one process with a reader/writer lock
// per path. Entries are reference counted and dropped when unused.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// NewLocal returns an in-process coordinator.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) acquire(path string) *entry {
	key := filepath.Clean(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *Local) release(path string, e *entry) {
	key := filepath.Clean(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// WithReadLock implements Coordinator.
func (l *Local) WithReadLock(path string, fn func() error) error {
	e := l.acquire(path)
	defer l.release(path, e)
	e.rw.RLock()
	defer e.rw.RUnlock()
	return fn()
}

// WithWriteLock implements Coordinator.
func (l *Local) WithWriteLock(path string, fn func() error) error {
	e := l.acquire(path)
	defer l.release(path, e)
	e.rw.Lock()
	defer e.rw.Unlock()
	return fn()
}

// WithRemoveLock implements Coordinator. Local entries are already
// dropped when unused.
func (l *Local) WithRemoveLock(path string, fn func() error) error {
	return l.WithWriteLock(path, fn)
}

// held returns the number of paths with an outstanding lock entry.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ Coordinator = (*Local)(nil)

// Coordination modes accepted by New.
const (
	ModeFlock = "flock"
	ModeLocal = "local"
)

// New returns the coordinator for mode. lockDir is only used by ModeFlock.
func New(mode, lockDir string) (Coordinator, error) {
	switch mode {
	case ModeLocal:
		return NewLocal(), nil
	case ModeFlock, "":
		f, err := NewFlock(lockDir)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("coord: unknown mode %q", mode)
}
