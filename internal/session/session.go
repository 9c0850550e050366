// Package session is an in-memory object context on top of a store. It
// caches the records it has seen, collects unsaved inserts, updates and
// deletes until Save, and applies changes the store relays from other
// processes.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/store"
)

type state int

const (
	stateClean state = iota
	stateInserted
	stateUpdated
	stateDeleted
)

type object struct {
	values models.Attributes
	state  state
	// conflicted is set when the file changed underneath unsaved edits.
	conflicted bool
}

// Context caches records of one store. It is safe for concurrent use.
type Context struct {
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	objects map[models.ObjectID]*object
	detach  func()
}

// New returns a context on s and subscribes it to s's change notifications.
func New(s store.Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		store:   s,
		logger:  logger.With(slog.String("component", "session")),
		objects: make(map[models.ObjectID]*object),
	}
	c.detach = s.AddObserver(c)
	return c
}

// Close unsubscribes the context from the store. Unsaved changes are lost
// and the refs of unsaved inserts are given back.
func (c *Context) Close() {
	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	var unsaved []models.ObjectID
	for id, obj := range c.objects {
		if obj.state == stateInserted {
			unsaved = append(unsaved, id)
		}
	}
	c.mu.Unlock()
	c.store.ReleaseRefs(unsaved)
	if detach != nil {
		detach()
	}
}

// Insert registers a new record and returns its permanent id. The record
// is written by the next Save.
func (c *Context) Insert(entity string, values models.Attributes) (models.ObjectID, error) {
	ids, err := c.store.ObtainRefs(entity, 1)
	if err != nil {
		return models.ObjectID{}, err
	}
	v := values.Clone()
	if v == nil {
		v = models.Attributes{}
	}
	c.mu.Lock()
	c.objects[ids[0]] = &object{values: v, state: stateInserted}
	c.mu.Unlock()
	return ids[0], nil
}

// Update merges values into the record. A nil value removes the attribute.
func (c *Context) Update(ctx context.Context, id models.ObjectID, values models.Attributes) error {
	obj, err := c.materialize(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj.state == stateDeleted {
		return fmt.Errorf("session: update %s: %w", id, apperr.ErrNotFound)
	}
	for k, v := range values {
		if v == nil {
			delete(obj.values, k)
			continue
		}
		obj.values[k] = v
	}
	if obj.state == stateClean {
		obj.state = stateUpdated
	}
	return nil
}

// Delete marks the record for removal. Deleting a record inserted since
// the last Save simply forgets it.
func (c *Context) Delete(id models.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	if !ok {
		c.objects[id] = &object{state: stateDeleted}
		return
	}
	if obj.state == stateInserted {
		delete(c.objects, id)
		c.store.ReleaseRefs([]models.ObjectID{id})
		return
	}
	obj.state = stateDeleted
}

// Object returns the values of one record, loading them from the store
// when the record is not cached yet.
func (c *Context) Object(ctx context.Context, id models.ObjectID) (models.Attributes, error) {
	obj, err := c.materialize(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj.state == stateDeleted {
		return nil, fmt.Errorf("session: %s: %w", id, apperr.ErrNotFound)
	}
	return obj.values.Clone(), nil
}

// materialize returns the cached object for id, faulting it in from the store.
func (c *Context) materialize(ctx context.Context, id models.ObjectID) (*object, error) {
	c.mu.Lock()
	obj, ok := c.objects[id]
	c.mu.Unlock()
	if ok && (obj.values != nil || obj.state == stateDeleted) {
		return obj, nil
	}

	values, err := c.store.ValuesFor(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.objects[id]; ok {
		return cur, nil
	}
	obj = &object{values: values}
	c.objects[id] = obj
	return obj, nil
}

// Fetch runs req against the store and merges the result with the
// context: cached records with unsaved edits are returned with their local
// values, records deleted locally are left out and records inserted
// locally are added. Per-record errors are returned in the result.
func (c *Context) Fetch(ctx context.Context, req *store.FetchRequest) (*store.FetchResult, error) {
	switch req.ResultType {
	case "", store.ResultObjects, store.ResultIDs:
	default:
		return nil, fmt.Errorf("session: fetch %s: %w", req.ResultType, apperr.ErrUnsupportedResultType)
	}
	objReq := *req
	objReq.ResultType = store.ResultObjects
	objReq.Limit = 0
	objReq.Filter = nil
	r, err := c.store.Execute(ctx, &objReq)
	if err != nil {
		return nil, err
	}
	fetched := r.(*store.FetchResult)

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make(map[models.ObjectID]models.Attributes, len(fetched.Records))
	for _, rec := range fetched.Records {
		obj, ok := c.objects[rec.ID]
		switch {
		case !ok:
			c.objects[rec.ID] = &object{values: rec.Values.Clone()}
			merged[rec.ID] = rec.Values
		case obj.state == stateDeleted:
		case obj.state == stateClean:
			obj.values = rec.Values.Clone()
			merged[rec.ID] = rec.Values
		default:
			merged[rec.ID] = obj.values.Clone()
		}
	}
	for id, obj := range c.objects {
		if id.Entity == req.Entity && obj.state == stateInserted {
			merged[id] = obj.values.Clone()
		}
	}

	out := &store.FetchResult{Errors: fetched.Errors}
	for _, id := range slices.SortedFunc(maps.Keys(merged), compareIDs) {
		values := merged[id]
		if req.Filter != nil && !req.Filter(values) {
			continue
		}
		if req.Limit > 0 && len(out.Records)+len(out.IDs) >= req.Limit {
			break
		}
		if req.ResultType == store.ResultIDs {
			out.IDs = append(out.IDs, id)
			continue
		}
		out.Records = append(out.Records, models.Record{ID: id, Values: values})
	}
	return out, nil
}

func compareIDs(a, b models.ObjectID) int {
	return cmp.Or(cmp.Compare(a.Entity, b.Entity), cmp.Compare(a.Ref, b.Ref))
}

// HasChanges reports whether there are unsaved changes.
func (c *Context) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range c.objects {
		if obj.state != stateClean {
			return true
		}
	}
	return false
}

// Conflicts returns the records whose files changed while they carried
// unsaved edits. The next Save overwrites those files.
func (c *Context) Conflicts() []models.ObjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ObjectID
	for id, obj := range c.objects {
		if obj.conflicted {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, compareIDs)
	return out
}

// Save writes all unsaved changes in one save request. Operations that
// fail stay pending; the returned error is the store's *store.SaveError.
func (c *Context) Save(ctx context.Context) (*store.SaveResult, error) {
	c.mu.Lock()
	req := &store.SaveRequest{}
	for _, id := range slices.SortedFunc(maps.Keys(c.objects), compareIDs) {
		obj := c.objects[id]
		switch obj.state {
		case stateInserted:
			req.Inserted = append(req.Inserted, models.Record{ID: id, Values: obj.values.Clone()})
		case stateUpdated:
			req.Updated = append(req.Updated, models.Record{ID: id, Values: obj.values.Clone()})
		case stateDeleted:
			req.Deleted = append(req.Deleted, id)
		}
	}
	c.mu.Unlock()

	if len(req.Inserted)+len(req.Updated)+len(req.Deleted) == 0 {
		return &store.SaveResult{}, nil
	}

	r, err := c.store.Execute(ctx, req)
	var se *store.SaveError
	if err != nil && !errors.As(err, &se) {
		return nil, err
	}
	res := r.(*store.SaveResult)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range res.Inserted {
		c.markSaved(id)
	}
	for _, id := range res.Updated {
		c.markSaved(id)
	}
	for _, id := range res.Deleted {
		delete(c.objects, id)
	}
	if se != nil {
		return res, se
	}
	return res, nil
}

func (c *Context) markSaved(id models.ObjectID) {
	if obj, ok := c.objects[id]; ok {
		obj.state = stateClean
		obj.conflicted = false
	}
}

// Dump returns every record of entity as the context sees it, sorted by id.
func (c *Context) Dump(ctx context.Context, entity string) ([]models.Record, error) {
	res, err := c.Fetch(ctx, &store.FetchRequest{Entity: entity})
	if err != nil {
		return nil, err
	}
	for _, re := range res.Errors {
		c.logger.Warn("session: dump: unreadable record", slog.String("error", re.Error()))
	}
	return res.Records, nil
}

// NotifyChanged implements store.Observer. Cached records are refreshed;
// records with unsaved edits keep their local values and are marked as
// conflicted.
func (c *Context) NotifyChanged(id models.ObjectID, values models.Attributes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	if !ok {
		return
	}
	if obj.state != stateClean {
		obj.conflicted = true
		c.logger.Warn("session: record changed on disk while edited", slog.String("id", id.String()))
		return
	}
	obj.values = values
}

// NotifyRemoved implements store.Observer. The record is dropped from the
// cache, including any unsaved edits.
func (c *Context) NotifyRemoved(id models.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	if !ok {
		return
	}
	if obj.state == stateUpdated {
		c.logger.Warn("session: discarding edits of removed record", slog.String("id", id.String()))
	}
	delete(c.objects, id)
}

var _ store.Observer = (*Context)(nil)
