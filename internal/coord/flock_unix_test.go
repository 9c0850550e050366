//go:build unix

package coord

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFlockRemoveLockDropsLockFile(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, ".locks")
	f, err := NewFlock(lockDir)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "Note_1.rec")
	lockFile := filepath.Join(lockDir, "Note_1.rec.lock")

	if err := f.WithWriteLock(path, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(lockFile); err != nil {
		t.Fatalf("lock file after write: %v", err)
	}

	boom := errors.New("boom")
	if err := f.WithRemoveLock(path, func() error { return boom }); err != boom {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := os.Stat(lockFile); err != nil {
		t.Errorf("lock file removed after failed remove: %v", err)
	}

	if err := f.WithRemoveLock(path, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(lockFile); !os.IsNotExist(err) {
		t.Errorf("lock file still present after remove: %v", err)
	}
}

func TestFlockExclusiveAcrossRemovals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Note_1.rec")

	// Separate coordinators stand in for separate processes: only the
	// lock file serialises them.
	coords := make([]*Flock, 4)
	for i := range coords {
		f, err := NewFlock(filepath.Join(dir, ".locks"))
		if err != nil {
			t.Fatal(err)
		}
		coords[i] = f
	}

	var inside, maxInside atomic.Int32
	critical := func() error {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inside.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := coords[i%len(coords)]
			for j := 0; j < 5; j++ {
				var err error
				if (i+j)%2 == 0 {
					err = c.WithRemoveLock(path, critical)
				} else {
					err = c.WithWriteLock(path, critical)
				}
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
	}
}
