// Package store is the file-backed record store: it executes fetch and save
// requests against one directory of record files and relays changes made
// to that directory by other processes to registered observers.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/coder"
	"github.com/starford/raido/internal/coord"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/storage"
)

const defaultFetchWorkers = 8

// Observer receives changes made to the directory outside the engine.
// Notifications are advisory and arrive on a single goroutine; an observer
// must not block for long.
type Observer interface {
	NotifyChanged(id models.ObjectID, values models.Attributes)
	NotifyRemoved(id models.ObjectID)
}

// Options configures an Engine.
type Options struct {
	// Root is the directory holding the record files. Required.
	Root string
	// Model lists the entities the store accepts. Required.
	Model *schema.Model
	// Extension marks store files; defaults to storage.DefaultExtension.
	Extension string
	// Debug enables debug logging for the store regardless of Logger's level.
	Debug bool
	// Index remembers record checksums across restarts; defaults to an
	// in-memory index.
	Index Index
	// Coordination is coord.ModeFlock (default) or coord.ModeLocal.
	// Ignored when Coordinator is set or Fs is not the OS file system.
	Coordination string
	Coordinator  coord.Coordinator
	Fs           afero.Fs
	Debounce     time.Duration
	// FetchWorkers bounds concurrent decoding during a fetch.
	FetchWorkers int
	Logger       *slog.Logger
}

// Engine executes requests against one directory.
type Engine struct {
	model   *schema.Model
	coder   *coder.Coder
	watcher *storage.Watcher
	index   Index
	refs    *refAllocator
	workers int
	logger  *slog.Logger

	faults singleflight.Group

	// present lists the record files found at open that no removal has
	// been relayed for yet.
	presentMu sync.Mutex
	present   map[models.ObjectID]struct{}

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int

	cancel    context.CancelFunc
	relayDone chan struct{}
	closeOnce sync.Once
}

// New creates the directory if needed, starts change detection and
// returns the engine. Directory errors are fatal.
func New(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("store: model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debug {
		logger = slog.New(withLevel(slog.LevelDebug, logger.Handler()))
	}
	logger = logger.With(slog.String("component", "store"))

	idx := opts.Index
	if idx == nil {
		idx = newMemoryIndex()
	}

	w, err := storage.NewWatcher(opts.Root, storage.Options{
		Fs:          opts.Fs,
		Coordinator: opts.Coordinator,
		Extension:   opts.Extension,
		Debounce:    opts.Debounce,
		Journal:     idx,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := w.CreateDirectoryIfNotThere(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if opts.Coordinator == nil {
		mode := opts.Coordination
		if _, isOS := w.FileSystem().(*afero.OsFs); !isOS {
			mode = coord.ModeLocal
		}
		c, err := coord.New(mode, filepath.Join(w.Root(), storage.LockDirName))
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		w.SetCoordinator(c)
	}

	workers := opts.FetchWorkers
	if workers <= 0 {
		workers = defaultFetchWorkers
	}

	e := &Engine{
		model:     opts.Model,
		coder:     coder.New(),
		watcher:   w,
		index:     idx,
		refs:      newRefAllocator(w),
		workers:   workers,
		logger:    logger,
		present:   make(map[models.ObjectID]struct{}),
		observers: make(map[int]Observer),
		relayDone: make(chan struct{}),
	}
	if err := e.seedPresent(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("store: %w", err)
	}
	e.cancel = cancel
	go e.relay()

	logger.Info("store: opened", slog.String("root", w.Root()), slog.String("extension", w.Extension()))
	return e, nil
}

// Root returns the absolute store directory.
func (e *Engine) Root() string { return e.watcher.Root() }

// Model returns the entity model.
func (e *Engine) Model() *schema.Model { return e.model }

// Close stops change detection. No observer is notified after Close returns.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.watcher.Close()
		<-e.relayDone
		e.cancel()
		e.logger.Info("store: closed", slog.String("root", e.watcher.Root()))
	})
	return err
}

// AddObserver registers o and returns a function that unregisters it.
func (e *Engine) AddObserver(o Observer) (remove func()) {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = o
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) snapshotObservers() []Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	out := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		out = append(out, o)
	}
	return out
}

// Execute runs a fetch or save request. A save that partly fails returns
// its *SaveResult together with a *SaveError.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	switch r := req.(type) {
	case *FetchRequest:
		return e.fetch(ctx, r)
	case *SaveRequest:
		return e.save(ctx, r)
	}
	kind := "<nil>"
	if req != nil {
		kind = string(req.Kind())
	}
	return nil, fmt.Errorf("store: request %s: %w", kind, apperr.ErrUnsupportedRequestType)
}

// Fetch is Execute for a fetch request.
func (e *Engine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	return e.fetch(ctx, req)
}

// Save is Execute for a save request.
func (e *Engine) Save(ctx context.Context, req *SaveRequest) (*SaveResult, error) {
	return e.save(ctx, req)
}

// itemFor resolves id to its file item and entity.
func (e *Engine) itemFor(id models.ObjectID) (*storage.Item, *schema.Entity, error) {
	ent, err := e.model.Entity(id.Entity)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.ValidateRef(id.Ref); err != nil {
		return nil, nil, err
	}
	return e.watcher.ItemForRef(id.Entity, id.Ref), ent, nil
}

func (e *Engine) fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	rt := req.ResultType
	if rt == "" {
		rt = ResultObjects
	}
	if rt != ResultObjects && rt != ResultIDs {
		return nil, fmt.Errorf("store: fetch %s: %w", rt, apperr.ErrUnsupportedResultType)
	}
	ent, err := e.model.Entity(req.Entity)
	if err != nil {
		return nil, fmt.Errorf("store: fetch: %w", err)
	}

	res := &FetchResult{}
	full := func() bool {
		if req.Limit <= 0 {
			return false
		}
		if rt == ResultIDs {
			return len(res.IDs) >= req.Limit
		}
		return len(res.Records) >= req.Limit
	}
	add := func(id models.ObjectID, values models.Attributes) {
		if rt == ResultIDs {
			res.IDs = append(res.IDs, id)
			return
		}
		res.Records = append(res.Records, models.Record{ID: id, Values: values})
	}
	needContent := rt == ResultObjects || req.Filter != nil

	batch := make([]*storage.Item, 0, e.workers)
	flush := func() error {
		values := make([]models.Attributes, len(batch))
		errs := make([]error, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for i, it := range batch {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				values[i], errs[i] = e.decodeItem(it, ent)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i, it := range batch {
			if full() {
				break
			}
			id := models.ObjectID{Entity: it.Entity(), Ref: it.Ref()}
			switch {
			case errors.Is(errs[i], fs.ErrNotExist):
				// Removed since enumeration.
			case errs[i] != nil:
				res.Errors = append(res.Errors, RecordError{ID: id, Path: it.Path(), Err: errs[i]})
			case req.Filter == nil || req.Filter(values[i]):
				add(id, values[i])
			}
		}
		batch = batch[:0]
		return nil
	}

	for it, err := range e.watcher.Items(req.Entity) {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			if !errors.Is(err, apperr.ErrInvalidFileName) {
				return nil, fmt.Errorf("store: fetch: %w", err)
			}
			res.Errors = append(res.Errors, RecordError{Err: err})
			continue
		}
		if !needContent {
			add(models.ObjectID{Entity: it.Entity(), Ref: it.Ref()}, nil)
			if full() {
				break
			}
			continue
		}
		batch = append(batch, it)
		if len(batch) < e.workers {
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if full() {
			break
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("store: fetch",
		slog.String("entity", req.Entity),
		slog.String("result", string(rt)),
		slog.Int("records", len(res.Records)+len(res.IDs)),
		slog.Int("errors", len(res.Errors)))
	return res, nil
}

func (e *Engine) decodeItem(it *storage.Item, ent *schema.Entity) (models.Attributes, error) {
	if err := it.LoadContent(); err != nil {
		return nil, err
	}
	return e.coder.Decode(it.Content(), ent)
}

func (e *Engine) save(ctx context.Context, req *SaveRequest) (*SaveResult, error) {
	res := &SaveResult{}
	var se SaveError
	apply := func(op Operation, fn func() error) bool {
		err := ctx.Err()
		if err == nil {
			err = fn()
		}
		if err != nil {
			se.Failed = append(se.Failed, FailedOperation{Operation: op, Err: err})
			e.logger.Warn("store: save operation failed",
				slog.String("op", string(op.Kind)),
				slog.String("id", op.ID.String()),
				slog.String("error", err.Error()))
			return false
		}
		se.Succeeded = append(se.Succeeded, op)
		return true
	}

	for _, rec := range req.Inserted {
		id, err := e.claimInsert(rec.ID)
		if err != nil {
			apply(Operation{Kind: OpInsert, ID: rec.ID}, func() error { return err })
			continue
		}
		if apply(Operation{Kind: OpInsert, ID: id}, func() error { return e.write(id, rec.Values) }) {
			res.Inserted = append(res.Inserted, id)
		}
		e.refs.release(id)
	}

	for _, rec := range req.Updated {
		if apply(Operation{Kind: OpUpdate, ID: rec.ID}, func() error {
			if rec.ID.IsTemporary() {
				return fmt.Errorf("store: update of unsaved record: %w", apperr.ErrNotFound)
			}
			return e.write(rec.ID, rec.Values)
		}) {
			res.Updated = append(res.Updated, rec.ID)
		}
	}

	for _, id := range req.Deleted {
		if apply(Operation{Kind: OpDelete, ID: id}, func() error {
			it, _, err := e.itemFor(id)
			if err != nil {
				return err
			}
			e.forgetPresent(id)
			return it.RemoveFile()
		}) {
			res.Deleted = append(res.Deleted, id)
		}
	}

	e.logger.Debug("store: save",
		slog.Int("inserted", len(res.Inserted)),
		slog.Int("updated", len(res.Updated)),
		slog.Int("deleted", len(res.Deleted)),
		slog.Int("failed", len(se.Failed)))
	if len(se.Failed) > 0 {
		return res, &se
	}
	return res, nil
}

// claimInsert returns the reserved id under which an inserted record is
// written. Records without a ref get a fresh one; a ref handed out by
// ObtainRefs is kept; any other ref must not name an existing file nor be
// the target of another insert in progress.
func (e *Engine) claimInsert(id models.ObjectID) (models.ObjectID, error) {
	if _, err := e.model.Entity(id.Entity); err != nil {
		return id, err
	}
	if id.IsTemporary() {
		return e.refs.allocate(id.Entity, refClaimed)
	}
	it, _, err := e.itemFor(id)
	if err != nil {
		return id, err
	}
	handedOut, err := e.refs.claim(id)
	if err != nil || handedOut {
		return id, err
	}
	exists, err := it.Exists()
	if err == nil && exists {
		err = fmt.Errorf("store: insert %s: ref already in use", id)
	}
	if err != nil {
		e.refs.release(id)
		return id, err
	}
	return id, nil
}

func (e *Engine) write(id models.ObjectID, values models.Attributes) error {
	it, ent, err := e.itemFor(id)
	if err != nil {
		return err
	}
	data, err := e.coder.Encode(values, ent)
	if err != nil {
		return err
	}
	it.SetContent(data)
	return it.WriteContent()
}

// ValuesFor loads the current values of one record. Concurrent calls for
// the same id share a single read. A missing file yields apperr.ErrNotFound.
func (e *Engine) ValuesFor(ctx context.Context, id models.ObjectID) (models.Attributes, error) {
	ch := e.faults.DoChan(id.String(), func() (any, error) {
		it, ent, err := e.itemFor(id)
		if err != nil {
			return nil, err
		}
		values, err := e.decodeItem(it, ent)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: %s: %w", id, apperr.ErrNotFound)
		}
		return values, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(models.Attributes).Clone(), nil
	}
}

// ObtainRefs reserves n permanent ids for records of entity that have not
// been saved yet. Inserting a record under a reserved id releases it.
func (e *Engine) ObtainRefs(entity string, n int) ([]models.ObjectID, error) {
	if _, err := e.model.Entity(entity); err != nil {
		return nil, fmt.Errorf("store: obtain refs: %w", err)
	}
	out := make([]models.ObjectID, 0, n)
	for range n {
		id, err := e.refs.allocate(entity, refHandedOut)
		if err != nil {
			e.refs.releaseHandedOut(out)
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// ReleaseRefs gives back ids obtained with ObtainRefs that will not be
// inserted. Ids already inserted or being inserted are unaffected.
func (e *Engine) ReleaseRefs(ids []models.ObjectID) {
	e.refs.releaseHandedOut(ids)
}
