// Package testutil provides shared test helpers for setting up stores and databases.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/spf13/afero"

	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NoteModel returns a model with a single Note entity:
// content (string), pinned (optional boolean), priority (optional integer16)
// and created (optional date).
func NoteModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.NewModel(&schema.Entity{Name: "Note", Attributes: []schema.Attribute{
		{Name: "content", Type: schema.TypeString},
		{Name: "pinned", Type: schema.TypeBoolean, Optional: true},
		{Name: "priority", Type: schema.TypeInteger16, Optional: true},
		{Name: "created", Type: schema.TypeDate, Optional: true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// QuietLogger logs errors only.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore opens a store of NoteModel on an in-memory file system. The
// store does not see external changes. idx may be nil.
func TestStore(t *testing.T, idx store.Index) *store.Engine {
	t.Helper()
	opts := store.Options{
		Root:   "/records",
		Model:  NoteModel(t),
		Fs:     afero.NewMemMapFs(),
		Logger: QuietLogger(),
	}
	if idx != nil {
		opts.Index = idx
	}
	e, err := store.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}
