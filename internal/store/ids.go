package store

import (
	"fmt"
	"sync"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

type refState int

const (
	// refHandedOut marks a ref returned by ObtainRefs and not yet inserted.
	refHandedOut refState = iota
	// refClaimed marks a ref whose insert is in progress.
	refClaimed
)

// refAllocator hands out refs that match no existing file and no ref
// already reserved by this process. A reservation lasts until the insert
// using it has completed or the holder releases it.
type refAllocator struct {
	watcher *storage.Watcher

	mu       sync.Mutex
	reserved map[models.ObjectID]refState
}

func newRefAllocator(w *storage.Watcher) *refAllocator {
	return &refAllocator{watcher: w, reserved: make(map[models.ObjectID]refState)}
}

// allocate reserves a fresh id for entity in state st.
func (a *refAllocator) allocate(entity string, st refState) (models.ObjectID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		id := models.ObjectID{Entity: entity, Ref: storage.NewRef()}
		if _, taken := a.reserved[id]; taken {
			continue
		}
		exists, err := a.watcher.ItemForRef(entity, id.Ref).Exists()
		if err != nil {
			return models.ObjectID{}, err
		}
		if exists {
			continue
		}
		a.reserved[id] = st
		return id, nil
	}
}

// claim marks id as being inserted. It reports whether id had been handed
// out by ObtainRefs, and fails when another insert of id is in progress.
func (a *refAllocator) claim(id models.ObjectID) (handedOut bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.reserved[id]
	if ok && st == refClaimed {
		return false, fmt.Errorf("store: insert %s: ref already in use", id)
	}
	a.reserved[id] = refClaimed
	return ok, nil
}

func (a *refAllocator) release(id models.ObjectID) {
	a.mu.Lock()
	delete(a.reserved, id)
	a.mu.Unlock()
}

// releaseHandedOut drops ids that are still only handed out; refs with an
// insert in progress are left alone.
func (a *refAllocator) releaseHandedOut(ids []models.ObjectID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if a.reserved[id] == refHandedOut {
			delete(a.reserved, id)
		}
	}
}

func (a *refAllocator) isReserved(id models.ObjectID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[id]
	return ok
}
