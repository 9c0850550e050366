package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM records`).Scan(&count); err != nil {
		t.Fatalf("records table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	id := models.ObjectID{Entity: "Note", Ref: "r1"}
	if err := db.UpsertRecord(models.RecordMetadata{ID: id, Checksum: "abc123"}); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}
	cs, err := db.GetChecksum(id)
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	id := models.ObjectID{Entity: "Note", Ref: "r1"}
	then := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = db.UpsertRecord(models.RecordMetadata{ID: id, Checksum: "1", UpdatedAt: then})
	_ = db.UpsertRecord(models.RecordMetadata{ID: id, Checksum: "2", UpdatedAt: then.Add(time.Hour)})

	cs, err := db.GetChecksum(id)
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
}

func TestDeleteRecord(t *testing.T) {
	db := testDB(t)
	id := models.ObjectID{Entity: "Note", Ref: "gone"}
	_ = db.UpsertRecord(models.RecordMetadata{ID: id, Checksum: "x"})

	existed, err := db.DeleteRecord(id)
	if err != nil || !existed {
		t.Fatalf("DeleteRecord = %v, %v", existed, err)
	}
	existed, err = db.DeleteRecord(id)
	if err != nil || existed {
		t.Errorf("second DeleteRecord = %v, %v; want false, nil", existed, err)
	}
	if cs, _ := db.GetChecksum(id); cs != "" {
		t.Errorf("deleted record still has checksum %q", cs)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum(models.ObjectID{Entity: "Note", Ref: "nope"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestAllChecksumsAndCounts(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertRecord(models.RecordMetadata{ID: models.ObjectID{Entity: "Note", Ref: "a"}, Checksum: "1"})
	_ = db.UpsertRecord(models.RecordMetadata{ID: models.ObjectID{Entity: "Note", Ref: "b"}, Checksum: "2"})
	_ = db.UpsertRecord(models.RecordMetadata{ID: models.ObjectID{Entity: "Task", Ref: "c"}, Checksum: "3"})

	notes, err := db.AllChecksums("Note")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[models.ObjectID{Entity: "Note", Ref: "b"}] != "2" {
		t.Errorf("notes = %v", notes)
	}
	all, _ := db.AllChecksums("")
	if len(all) != 3 {
		t.Errorf("all = %v", all)
	}

	counts, err := db.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["Note"] != 2 || counts["Task"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestJournalTracksItemWrites(t *testing.T) {
	db := testDB(t)
	w, err := storage.NewWatcher(filepath.Join(t.TempDir(), "records"), storage.Options{Journal: db})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDirectoryIfNotThere(); err != nil {
		t.Fatal(err)
	}

	it := w.ItemForRef("Note", storage.NewRef())
	it.SetContent([]byte("content"))
	if err := it.WriteContent(); err != nil {
		t.Fatal(err)
	}
	id := models.ObjectID{Entity: "Note", Ref: it.Ref()}
	if cs, _ := db.GetChecksum(id); cs != it.Checksum() {
		t.Errorf("checksum = %q, want %q", cs, it.Checksum())
	}

	if err := it.RemoveFile(); err != nil {
		t.Fatal(err)
	}
	if cs, _ := db.GetChecksum(id); cs != "" {
		t.Errorf("removed record still indexed: %q", cs)
	}
}
