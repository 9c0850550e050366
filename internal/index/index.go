package index

import (
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// RecordIndex defines the interface for record indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type RecordIndex interface {
	storage.Journal
	UpsertRecord(m models.RecordMetadata) error
	DeleteRecord(id models.ObjectID) (bool, error)
	GetChecksum(id models.ObjectID) (string, error)
	AllChecksums(entity string) (map[models.ObjectID]string, error)
	Counts() (map[string]int, error)
	Close() error
}

// Verify *DB satisfies RecordIndex at compile time.
var _ RecordIndex = (*DB)(nil)

// Committed records the checksum of content just written through item.
func (db *DB) Committed(item *storage.Item) error {
	return db.UpsertRecord(models.RecordMetadata{
		ID:       models.ObjectID{Entity: item.Entity(), Ref: item.Ref()},
		Checksum: item.Checksum(),
	})
}

// Forgotten drops the row of a file just removed through item.
func (db *DB) Forgotten(item *storage.Item) error {
	_, err := db.DeleteRecord(models.ObjectID{Entity: item.Entity(), Ref: item.Ref()})
	return err
}
