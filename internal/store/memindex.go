package store

import (
	"sync"
	"time"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// Index is the part of the record index the engine needs: it is the
// watcher's journal and remembers the checksum of every known record.
type Index interface {
	storage.Journal
	UpsertRecord(m models.RecordMetadata) error
	DeleteRecord(id models.ObjectID) (bool, error)
	GetChecksum(id models.ObjectID) (string, error)
	AllChecksums(entity string) (map[models.ObjectID]string, error)
}

// memoryIndex is the Index used when no persistent index is configured.
// It forgets everything on restart, so Reconcile reports every file.
type memoryIndex struct {
	mu   sync.RWMutex
	rows map[models.ObjectID]models.RecordMetadata
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{rows: make(map[models.ObjectID]models.RecordMetadata)}
}

func (m *memoryIndex) Committed(it *storage.Item) error {
	return m.UpsertRecord(models.RecordMetadata{
		ID:       models.ObjectID{Entity: it.Entity(), Ref: it.Ref()},
		Checksum: it.Checksum(),
	})
}

func (m *memoryIndex) Forgotten(it *storage.Item) error {
	_, err := m.DeleteRecord(models.ObjectID{Entity: it.Entity(), Ref: it.Ref()})
	return err
}

func (m *memoryIndex) UpsertRecord(r models.RecordMetadata) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.rows[r.ID] = r
	m.mu.Unlock()
	return nil
}

func (m *memoryIndex) DeleteRecord(id models.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

func (m *memoryIndex) GetChecksum(id models.ObjectID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows[id].Checksum, nil
}

func (m *memoryIndex) AllChecksums(entity string) (map[models.ObjectID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.ObjectID]string, len(m.rows))
	for id, r := range m.rows {
		if entity == "" || id.Entity == entity {
			out[id] = r.Checksum
		}
	}
	return out, nil
}
