package coord

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func exerciseExclusion(t *testing.T, c Coordinator, path string) {
	t.Helper()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.WithWriteLock(path, func() error {
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
			})
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Errorf("max concurrent writers = %d, want 1", maxInside.Load())
	}
}

func TestLocalWriteLockExclusive(t *testing.T) {
	l := NewLocal()
	exerciseExclusion(t, l, "/data/Note_1.rec")
	if l.held() != 0 {
		t.Errorf("held = %d after release, want 0", l.held())
	}
}

func TestLocalReadersShare(t *testing.T) {
	l := NewLocal()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithReadLock("a", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = l.WithReadLock("a", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked by first reader")
	}

	writerDone := make(chan struct{})
	go func() {
		_ = l.WithWriteLock("a", func() error { return nil })
		close(writerDone)
	}()
	select {
	case <-writerDone:
		t.Fatal("writer entered while a reader held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-writerDone
}

func TestLocalPropagatesError(t *testing.T) {
	want := errors.New("boom")
	if err := NewLocal().WithWriteLock("x", func() error { return want }); err != want {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestFlockWriteLockExclusive(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFlock(filepath.Join(dir, ".locks"))
	if err != nil {
		t.Fatalf("NewFlock: %v", err)
	}
	exerciseExclusion(t, f, filepath.Join(dir, "Note_1.rec"))
}

func TestNewModes(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(ModeLocal, ""); err != nil {
		t.Errorf("local: %v", err)
	}
	if _, err := New(ModeFlock, filepath.Join(dir, "locks")); err != nil {
		t.Errorf("flock: %v", err)
	}
	if _, err := New("zookeeper", dir); err == nil {
		t.Error("expected error for unknown mode")
	}
}
