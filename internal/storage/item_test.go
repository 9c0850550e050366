package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/coord"
)

func tempWatcher(t *testing.T) *Watcher {
	t.Helper()
	dir := t.TempDir()
	c, err := coord.NewFlock(filepath.Join(dir, LockDirName))
	if err != nil {
		t.Fatalf("NewFlock: %v", err)
	}
	w, err := NewWatcher(dir, Options{Coordinator: c})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.CreateDirectoryIfNotThere(); err != nil {
		t.Fatalf("CreateDirectoryIfNotThere: %v", err)
	}
	return w
}

type recordingJournal struct {
	mu        sync.Mutex
	committed []string
	forgotten []string
}

func (j *recordingJournal) Committed(it *Item) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.committed = append(j.committed, it.StorageIdentifier()+":"+it.Checksum())
	return nil
}

func (j *recordingJournal) Forgotten(it *Item) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.forgotten = append(j.forgotten, it.StorageIdentifier())
	return nil
}

func TestItemWriteAndLoad(t *testing.T) {
	w := tempWatcher(t)
	ref := NewRef()
	it := w.ItemForRef("Note", ref)
	if it.ContentLoaded() {
		t.Fatal("new item should not be loaded")
	}
	it.SetContent([]byte("payload"))
	if err := it.WriteContent(); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}

	if want := filepath.Join(w.Root(), "Note_"+ref+".rec"); it.Path() != want {
		t.Errorf("path = %q, want %q", it.Path(), want)
	}
	if it.StorageIdentifier() != "Note_"+ref {
		t.Errorf("storage identifier = %q", it.StorageIdentifier())
	}

	again, err := w.ItemForPath(it.Path())
	if err != nil {
		t.Fatalf("ItemForPath: %v", err)
	}
	if err := again.LoadContent(); err != nil {
		t.Fatalf("LoadContent: %v", err)
	}
	if string(again.Content()) != "payload" || !again.ContentLoaded() {
		t.Errorf("content = %q loaded = %v", again.Content(), again.ContentLoaded())
	}
	if again.Checksum() != it.Checksum() {
		t.Error("checksums differ for identical content")
	}

	matches, _ := filepath.Glob(filepath.Join(w.Root(), tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestItemRemoveIdempotent(t *testing.T) {
	w := tempWatcher(t)
	it := w.ItemForRef("Note", NewRef())
	it.SetContent([]byte("x"))
	if err := it.WriteContent(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := it.RemoveFile(); err != nil {
			t.Fatalf("RemoveFile #%d: %v", i+1, err)
		}
	}
	if _, err := os.Stat(it.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("file still present: %v", err)
	}
}

func TestItemLoadMissing(t *testing.T) {
	w := tempWatcher(t)
	err := w.ItemForRef("Note", NewRef()).LoadContent()
	if !errors.Is(err, apperr.ErrIO) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want IOError wrapping ErrNotExist", err)
	}
}

func TestItemWriteNeedsDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "absent"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	it := w.ItemForRef("Note", NewRef())
	it.SetContent([]byte("x"))
	if err := it.WriteContent(); !errors.Is(err, apperr.ErrIO) {
		t.Errorf("err = %v, want ErrIO", err)
	}
}

func TestItemJournal(t *testing.T) {
	w := tempWatcher(t)
	j := &recordingJournal{}
	w.SetJournal(j)

	it := w.ItemForRef("Note", NewRef())
	it.SetContent([]byte("journaled"))
	if err := it.WriteContent(); err != nil {
		t.Fatal(err)
	}
	if err := it.RemoveFile(); err != nil {
		t.Fatal(err)
	}
	if len(j.committed) != 1 || j.committed[0] != it.StorageIdentifier()+":"+checksum([]byte("journaled")) {
		t.Errorf("committed = %v", j.committed)
	}
	if len(j.forgotten) != 1 || j.forgotten[0] != it.StorageIdentifier() {
		t.Errorf("forgotten = %v", j.forgotten)
	}
}

func TestCreateDirectoryIfNotThere(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	w, err := NewWatcher(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := w.CreateDirectoryIfNotThere(); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestCreateDirectoryOverFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDirectoryIfNotThere(); !errors.Is(err, apperr.ErrPathExistsAndIsNotDirectory) {
		t.Errorf("err = %v, want ErrPathExistsAndIsNotDirectory", err)
	}
}

func TestItemsEnumeration(t *testing.T) {
	w := tempWatcher(t)
	refs := map[string]bool{}
	for i := 0; i < 3; i++ {
		it := w.ItemForRef("Note", NewRef())
		it.SetContent([]byte("n"))
		if err := it.WriteContent(); err != nil {
			t.Fatal(err)
		}
		refs[it.Ref()] = true
	}
	other := w.ItemForRef("Task", NewRef())
	other.SetContent([]byte("t"))
	if err := other.WriteContent(); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(w.Root(), "readme.txt"), []byte("ignored"), 0o644)
	_ = os.WriteFile(filepath.Join(w.Root(), "Note_garbage.rec"), []byte("bad"), 0o644)
	_ = os.Mkdir(filepath.Join(w.Root(), "sub.rec"), 0o755)

	var notes, invalid int
	for it, err := range w.Items("Note") {
		if err != nil {
			if !errors.Is(err, apperr.ErrInvalidFileName) {
				t.Fatalf("unexpected error: %v", err)
			}
			invalid++
			continue
		}
		if it.Entity() != "Note" || !refs[it.Ref()] {
			t.Errorf("unexpected item %s", it.Name())
		}
		if it.ContentLoaded() {
			t.Error("enumeration should not load content")
		}
		notes++
	}
	if notes != 3 || invalid != 1 {
		t.Errorf("notes = %d invalid = %d, want 3 and 1", notes, invalid)
	}

	all := 0
	for _, err := range w.Items("") {
		if err == nil {
			all++
		}
	}
	if all != 4 {
		t.Errorf("all = %d, want 4", all)
	}
}

func TestItemsStopEarly(t *testing.T) {
	w := tempWatcher(t)
	for i := 0; i < 5; i++ {
		it := w.ItemForRef("Note", NewRef())
		it.SetContent([]byte("n"))
		if err := it.WriteContent(); err != nil {
			t.Fatal(err)
		}
	}
	seen := 0
	for range w.Items("Note") {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("seen = %d, want 2", seen)
	}
}

func TestItemsOnMemoryFs(t *testing.T) {
	mem := afero.NewMemMapFs()
	w, err := NewWatcher("/records", Options{Fs: mem})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CreateDirectoryIfNotThere(); err != nil {
		t.Fatal(err)
	}
	it := w.ItemForRef("Note", NewRef())
	it.SetContent([]byte("in memory"))
	if err := it.WriteContent(); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	count := 0
	for got, err := range w.Items("") {
		if err != nil {
			t.Fatal(err)
		}
		if err := got.LoadContent(); err != nil {
			t.Fatal(err)
		}
		if string(got.Content()) != "in memory" {
			t.Errorf("content = %q", got.Content())
		}
		count++
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
