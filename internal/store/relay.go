package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// relay consumes watcher events until the watcher closes its channel.
func (e *Engine) relay() {
	defer close(e.relayDone)
	for ev := range e.watcher.Events() {
		id := models.ObjectID{Entity: ev.Item.Entity(), Ref: ev.Item.Ref()}
		var (
			notified bool
			err      error
		)
		switch ev.Kind {
		case storage.EventChanged:
			notified, err = e.applyChanged(id, ev.Item)
		case storage.EventRemoved:
			notified, err = e.applyRemoved(id)
		}
		if err != nil {
			e.logger.Warn("store: external change not relayed",
				slog.String("id", id.String()),
				slog.String("event", ev.Kind.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !notified {
			e.logger.Debug("store: event suppressed",
				slog.String("id", id.String()), slog.String("event", ev.Kind.String()))
		}
	}
}

// applyChanged decodes the loaded content of it and notifies observers,
// unless the index already holds the same checksum (the engine's own write
// or a duplicate event).
func (e *Engine) applyChanged(id models.ObjectID, it *storage.Item) (bool, error) {
	ent, err := e.model.Entity(id.Entity)
	if err != nil {
		return false, err
	}
	known, err := e.index.GetChecksum(id)
	if err != nil {
		return false, err
	}
	sum := it.Checksum()
	if known == sum {
		return false, nil
	}
	values, err := e.coder.Decode(it.Content(), ent)
	if err != nil {
		return false, err
	}
	if err := e.index.UpsertRecord(models.RecordMetadata{ID: id, Checksum: sum}); err != nil {
		e.logger.Warn("store: index update failed", slog.String("id", id.String()), slog.String("error", err.Error()))
	}
	for _, o := range e.snapshotObservers() {
		o.NotifyChanged(id, values.Clone())
	}
	return true, nil
}

// applyRemoved notifies observers of a vanished record that the index
// knows about or that was on disk when the engine opened. Removals
// performed by the engine already dropped both and are therefore silent.
func (e *Engine) applyRemoved(id models.ObjectID) (bool, error) {
	existed, err := e.index.DeleteRecord(id)
	if err != nil {
		return false, err
	}
	if !e.forgetPresent(id) && !existed {
		return false, nil
	}
	for _, o := range e.snapshotObservers() {
		o.NotifyRemoved(id)
	}
	return true, nil
}

// seedPresent records every record file found when the engine opens, so
// that its later removal is relayed even if the index has never seen it.
func (e *Engine) seedPresent() error {
	for it, err := range e.watcher.Items("") {
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidFileName) {
				continue
			}
			return err
		}
		e.present[models.ObjectID{Entity: it.Entity(), Ref: it.Ref()}] = struct{}{}
	}
	return nil
}

// forgetPresent drops id from the open-time listing and reports whether it
// was there.
func (e *Engine) forgetPresent(id models.ObjectID) bool {
	e.presentMu.Lock()
	defer e.presentMu.Unlock()
	_, ok := e.present[id]
	delete(e.present, id)
	return ok
}

// ReconcileStats summarises a Reconcile pass.
type ReconcileStats struct {
	Changed int
	Removed int
	Failed  int
	// Errors holds one entry per failed file.
	Errors []RecordError
}

func (s *ReconcileStats) fail(id models.ObjectID, err error) {
	s.Failed++
	s.Errors = append(s.Errors, RecordError{ID: id, Err: err})
}

// Reconcile compares the directory with the index and notifies observers
// of every record created, modified or removed while no engine was
// watching. Files that cannot be read or decoded are logged and listed in
// the stats; a file naming an entity outside the model fails with
// apperr.ErrEntityDoesNotExist.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	known, err := e.index.AllChecksums("")
	if err != nil {
		return stats, fmt.Errorf("store: reconcile: %w", err)
	}

	seen := make(map[models.ObjectID]struct{}, len(known))
	for it, err := range e.watcher.Items("") {
		if cerr := ctx.Err(); cerr != nil {
			return stats, cerr
		}
		if err != nil {
			if !errors.Is(err, apperr.ErrInvalidFileName) {
				return stats, fmt.Errorf("store: reconcile: %w", err)
			}
			e.logger.Warn("store: reconcile: skipping file", slog.String("error", err.Error()))
			stats.fail(models.ObjectID{}, err)
			continue
		}
		id := models.ObjectID{Entity: it.Entity(), Ref: it.Ref()}
		if err := it.LoadContent(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			e.logger.Warn("store: reconcile: read failed", slog.String("id", id.String()), slog.String("error", err.Error()))
			stats.fail(id, err)
			continue
		}
		seen[id] = struct{}{}
		changed, err := e.applyChanged(id, it)
		switch {
		case err != nil:
			e.logger.Warn("store: reconcile: decode failed", slog.String("id", id.String()), slog.String("error", err.Error()))
			stats.fail(id, err)
		case changed:
			stats.Changed++
		}
	}

	for id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		removed, err := e.applyRemoved(id)
		if err != nil {
			e.logger.Warn("store: reconcile: forget failed", slog.String("id", id.String()), slog.String("error", err.Error()))
			stats.fail(id, err)
			continue
		}
		if removed {
			stats.Removed++
		}
	}

	e.logger.Info("store: reconciled",
		slog.Int("changed", stats.Changed),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed))
	return stats, nil
}
