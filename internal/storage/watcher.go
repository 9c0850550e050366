// Package storage maps records onto files in one directory: Item performs
// coordinated reads, writes and removes of a single file, and Watcher owns
// the directory, enumerates its items and reports changes made to it by
// other processes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/coord"
)

const (
	tempPrefix = ".raido-tmp-"

	// LockDirName is the hidden directory holding coordination lock files.
	LockDirName = ".raido-locks"

	defaultDebounce = 100 * time.Millisecond
)

// EventKind distinguishes watcher events.
type EventKind int

const (
	// EventChanged reports a created or modified file; its content is loaded.
	EventChanged EventKind = iota + 1
	// EventRemoved reports a file that no longer exists.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered on Watcher.Events for every settled file change.
type Event struct {
	Kind EventKind
	Item *Item
}

// Journal is told about every successful write and remove performed
// through an Item. Calls happen while the file's write lock is held, so a
// watcher event for the same file is always observed after the journal
// entry.
type Journal interface {
	Committed(item *Item) error
	Forgotten(item *Item) error
}

// Options configures a Watcher.
type Options struct {
	// Fs is the file system; defaults to the OS file system. Change
	// detection only works on the OS file system.
	Fs afero.Fs
	// Coordinator guards file access; defaults to an in-process coordinator.
	Coordinator coord.Coordinator
	// Extension marks store files; defaults to DefaultExtension.
	Extension string
	// Debounce coalesces bursts of notifications for one file.
	Debounce time.Duration
	Journal  Journal
	Logger   *slog.Logger
}

// Watcher owns one directory of record files.
type Watcher struct {
	root     string
	ext      string
	fs       afero.Fs
	coord    coord.Coordinator
	journal  Journal
	debounce time.Duration
	logger   *slog.Logger

	events chan Event

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher returns a watcher for root. It touches nothing on disk;
// call CreateDirectoryIfNotThere and Start.
func NewWatcher(root string, opts Options) (*Watcher, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	w := &Watcher{
		root:     abs,
		ext:      opts.Extension,
		fs:       opts.Fs,
		coord:    opts.Coordinator,
		journal:  opts.Journal,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		events:   make(chan Event, 64),
	}
	if w.ext == "" {
		w.ext = DefaultExtension
	}
	if !strings.HasPrefix(w.ext, ".") {
		w.ext = "." + w.ext
	}
	if w.fs == nil {
		w.fs = afero.NewOsFs()
	}
	if w.coord == nil {
		w.coord = coord.NewLocal()
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Root returns the absolute directory path.
func (w *Watcher) Root() string { return w.root }

// Extension returns the store file extension, including the dot.
func (w *Watcher) Extension() string { return w.ext }

// SetCoordinator replaces the coordinator. It must be called before any
// item is read or written.
func (w *Watcher) SetCoordinator(c coord.Coordinator) { w.coord = c }

// SetJournal installs the journal notified by item writes and removes.
// It must be called before any item is written.
func (w *Watcher) SetJournal(j Journal) { w.journal = j }

// FileSystem returns the file system the watcher operates on.
func (w *Watcher) FileSystem() afero.Fs { return w.fs }

// Events returns the channel of settled changes. It is closed by Close.
func (w *Watcher) Events() <-chan Event { return w.events }

// CreateDirectoryIfNotThere creates the root directory when missing.
func (w *Watcher) CreateDirectoryIfNotThere() error {
	info, err := w.fs.Stat(w.root)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("storage: %w: %s", apperr.ErrPathExistsAndIsNotDirectory, w.root)
	case !errors.Is(err, fs.ErrNotExist):
		return apperr.NewIO("stat", w.root, err)
	}
	if err := w.fs.MkdirAll(w.root, 0o755); err != nil {
		return apperr.NewIO("mkdir", w.root, err)
	}
	return nil
}

// isStoreFile reports whether a file name carries the store extension and
// is not one of the store's own hidden files.
func (w *Watcher) isStoreFile(name string) bool {
	return strings.HasSuffix(name, w.ext) && !strings.HasPrefix(name, ".")
}

// Items enumerates the store files in the directory, restricted to one
// entity when entity is non-empty, in file name order. A file that carries
// the extension but cannot be decomposed yields a nil item and an error
// wrapping apperr.ErrInvalidFileName; enumeration then continues. Breaking
// out of the loop stops the enumeration.
func (w *Watcher) Items(entity string) iter.Seq2[*Item, error] {
	return func(yield func(*Item, error) bool) {
		infos, err := afero.ReadDir(w.fs, w.root)
		if err != nil {
			yield(nil, apperr.NewIO("list", w.root, err))
			return
		}
		prefix := ""
		if entity != "" {
			prefix = entity + separator
		}
		for _, fi := range infos {
			name := fi.Name()
			if fi.IsDir() || !w.isStoreFile(name) || !strings.HasPrefix(name, prefix) {
				continue
			}
			item, err := w.ItemForPath(filepath.Join(w.root, name))
			if !yield(item, err) {
				return
			}
		}
	}
}

// Start registers the directory with fsnotify and begins delivering
// events. It is a no-op on file systems other than the OS file system.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("storage: watcher already started")
	}
	w.started = true

	if _, ok := w.fs.(*afero.OsFs); !ok {
		w.logger.Debug("watcher: change detection disabled for non-OS file system")
		close(w.events)
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: watcher: %w", err)
	}
	if err := fw.Add(w.root); err != nil {
		fw.Close()
		return fmt.Errorf("storage: watch %s: %w", w.root, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, fw)

	w.logger.Info("watcher: started", slog.String("root", w.root))
	return nil
}

// Close unregisters from fsnotify and waits for the event loop to exit.
// No events are delivered after Close returns.
func (w *Watcher) Close() error {
	w.mu.Lock()
	cancel, done, started := w.cancel, w.done, w.started
	w.cancel = nil
	if !started {
		w.started = true
		close(w.events)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer close(w.events)
	defer fw.Close()

	pending := make(map[string]struct{})

	// settleTimer debounces bursts (create + several writes) per flush.
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(w.debounce)
		} else {
			settleTimer.Reset(w.debounce)
		}
		settleCh = settleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			w.logger.Info("watcher: stopped", slog.String("root", w.root))
			return

		case <-settleCh:
			settleCh = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				if !w.settle(ctx, p) {
					return
				}
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Dir(ev.Name) != w.root || !w.isStoreFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("watcher: event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			pending[ev.Name] = struct{}{}
			schedule()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// settle classifies a file by its current state and emits one event.
// It returns false when the watcher is shutting down.
func (w *Watcher) settle(ctx context.Context, path string) bool {
	item, err := w.ItemForPath(path)
	if err != nil {
		w.logger.Warn("watcher: ignoring file", slog.String("path", path), slog.String("error", err.Error()))
		return true
	}

	ev := Event{Kind: EventChanged, Item: item}
	if err := item.LoadContent(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("watcher: read failed", slog.String("path", path), slog.String("error", err.Error()))
			return true
		}
		ev.Kind = EventRemoved
	}

	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
