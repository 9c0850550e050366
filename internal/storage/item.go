package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/starford/raido/internal/apperr"
)

// Item is one record file inside a watcher's directory. Items are built on
// demand for a single operation; content is only read when LoadContent is
// called and is never refreshed behind the caller's back.
type Item struct {
	watcher *Watcher
	path    string
	entity  string
	ref     string

	content []byte
	loaded  bool
}

// ItemForRef returns the item for a record of entity with the given ref.
func (w *Watcher) ItemForRef(entity, ref string) *Item {
	return &Item{
		watcher: w,
		path:    filepath.Join(w.root, FileName(entity, ref, w.ext)),
		entity:  entity,
		ref:     ref,
	}
}

// ItemForPath returns the item for an existing path inside the directory.
// The file name must decompose into entity and ref.
func (w *Watcher) ItemForPath(path string) (*Item, error) {
	entity, ref, err := SplitFileName(filepath.Base(path), w.ext)
	if err != nil {
		return nil, err
	}
	return &Item{watcher: w, path: filepath.Join(w.root, filepath.Base(path)), entity: entity, ref: ref}, nil
}

// Path returns the absolute path of the item's file.
func (it *Item) Path() string { return it.path }

// Name returns the file name.
func (it *Item) Name() string { return filepath.Base(it.path) }

// Entity returns the entity name encoded in the file name.
func (it *Item) Entity() string { return it.entity }

// Ref returns the record reference encoded in the file name.
func (it *Item) Ref() string { return it.ref }

// StorageIdentifier returns "<entity>_<ref>", the file name without extension.
func (it *Item) StorageIdentifier() string { return it.entity + separator + it.ref }

// Watcher returns the watcher owning the item's directory.
func (it *Item) Watcher() *Watcher { return it.watcher }

// Content returns the bytes set by SetContent or read by LoadContent.
func (it *Item) Content() []byte { return it.content }

// SetContent replaces the in-memory content to be written by WriteContent.
func (it *Item) SetContent(data []byte) {
	it.content = data
	it.loaded = true
}

// ContentLoaded reports whether Content reflects a read or a SetContent call.
func (it *Item) ContentLoaded() bool { return it.loaded }

// Checksum returns the hex SHA-256 of the in-memory content.
func (it *Item) Checksum() string { return checksum(it.content) }

// Exists reports whether the item's file is present. It does not take a
// coordinated lock.
func (it *Item) Exists() (bool, error) {
	_, err := it.watcher.fs.Stat(it.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, apperr.NewIO("stat", it.path, err)
}

// LoadContent reads the file under a shared coordinated lock. A missing
// file yields an *apperr.IOError wrapping fs.ErrNotExist.
func (it *Item) LoadContent() error {
	w := it.watcher
	return w.coord.WithReadLock(it.path, func() error {
		data, err := afero.ReadFile(w.fs, it.path)
		if err != nil {
			return apperr.NewIO("read", it.path, err)
		}
		it.content = data
		it.loaded = true
		return nil
	})
}

// WriteContent atomically replaces the file with the in-memory content
// (temp file, fsync, rename) under an exclusive coordinated lock. The
// directory must already exist.
func (it *Item) WriteContent() error {
	w := it.watcher
	return w.coord.WithWriteLock(it.path, func() error {
		if err := w.atomicWrite(it.path, it.content); err != nil {
			return err
		}
		if w.journal != nil {
			if err := w.journal.Committed(it); err != nil {
				w.logger.Warn("storage: journal commit failed",
					slog.String("path", it.path), slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// RemoveFile deletes the file under an exclusive coordinated lock.
// Removing a file that does not exist succeeds.
func (it *Item) RemoveFile() error {
	w := it.watcher
	return w.coord.WithRemoveLock(it.path, func() error {
		if err := w.fs.Remove(it.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return apperr.NewIO("remove", it.path, err)
		}
		if w.journal != nil {
			if err := w.journal.Forgotten(it); err != nil {
				w.logger.Warn("storage: journal forget failed",
					slog.String("path", it.path), slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// atomicWrite writes content: tmp file → fsync → rename.
func (w *Watcher) atomicWrite(path string, content []byte) error {
	tmp, err := afero.TempFile(w.fs, filepath.Dir(path), tempPrefix+"*")
	if err != nil {
		return apperr.NewIO("write", path, err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = w.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return apperr.NewIO("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.NewIO("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.NewIO("write", path, err)
	}
	if err := w.fs.Rename(tmpName, path); err != nil {
		return apperr.NewIO("write", path, err)
	}
	success = true
	return nil
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
