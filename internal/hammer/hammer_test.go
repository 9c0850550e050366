package hammer

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/store"
	"github.com/starford/raido/internal/testutil"
)

func allTypes(t *testing.T) *schema.Entity {
	t.Helper()
	e := &schema.Entity{Name: "Sample", Attributes: []schema.Attribute{
		{Name: "s", Type: schema.TypeString},
		{Name: "d", Type: schema.TypeDate},
		{Name: "i16", Type: schema.TypeInteger16},
		{Name: "i32", Type: schema.TypeInteger32},
		{Name: "i64", Type: schema.TypeInteger64},
		{Name: "f", Type: schema.TypeDouble},
		{Name: "b", Type: schema.TypeBoolean},
		{Name: "bin", Type: schema.TypeBinary, Optional: true},
	}}
	if err := e.Validate(); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestValuesFitTheModel(t *testing.T) {
	e := allTypes(t)
	now := time.Now().UTC()
	for seq := 1; seq <= 50; seq++ {
		values := Values(e, seq, "ref", now)
		if len(values) != len(e.Attributes) {
			t.Fatalf("values = %v", values)
		}
		for _, a := range e.Attributes {
			if _, err := a.Type.Canonical(values[a.Name]); err != nil {
				t.Errorf("%s: %v", a.Name, err)
			}
		}
		d := values["d"].(time.Time)
		if d.After(now) || d.Before(now.Add(-DateSpread-time.Second)) {
			t.Errorf("date %v outside spread", d)
		}
	}
	if got := Values(e, 7, "abc", now)["s"]; got != "For 7 - abc" {
		t.Errorf("string = %q", got)
	}
}

func TestRunWritesReadableRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	model := testutil.NoteModel(t)
	note, _ := model.Entity("Note")

	ids, err := Run(context.Background(), note, 25, Options{Root: "/records", Fs: fs, Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ids) != 25 {
		t.Fatalf("ids = %d", len(ids))
	}

	e, err := store.New(store.Options{Root: "/records", Model: model, Fs: fs, Logger: testutil.QuietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	res, err := e.Fetch(context.Background(), &store.FetchRequest{Entity: "Note", ResultType: store.ResultIDs})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.IDs) != 25 || len(res.Errors) != 0 {
		t.Errorf("fetched %d ids, %d errors", len(res.IDs), len(res.Errors))
	}
	seen := make(map[models.ObjectID]bool)
	for _, id := range res.IDs {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("%v not fetched", id)
		}
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := testutil.NoteModel(t)
	note, _ := model.Entity("Note")
	if _, err := Run(ctx, note, 10, Options{Root: "/records", Fs: afero.NewMemMapFs(), Logger: testutil.QuietLogger()}); err == nil {
		t.Error("expected cancellation error")
	}
}
