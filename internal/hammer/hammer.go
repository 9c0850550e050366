// Package hammer fills a store directory with generated records the way
// an external writer would: files are written directly, under the
// directory's coordination, without going through a store engine. A
// running store sees them as external changes.
package hammer

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/coder"
	"github.com/starford/raido/internal/coord"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/storage"
)

// DateSpread bounds how far generated dates lie in the past.
const DateSpread = 10 * 24 * time.Hour

// Options configures a run.
type Options struct {
	Root      string
	Extension string
	// Coordinator must match the one used by stores on the same
	// directory; defaults to flock coordination under Root.
	Coordinator coord.Coordinator
	Fs          afero.Fs
	Workers     int
	Logger      *slog.Logger
}

// Run writes n records of entity and returns their ids in creation order.
func Run(ctx context.Context, entity *schema.Entity, n int, opts Options) ([]models.ObjectID, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "hammer"))

	w, err := storage.NewWatcher(opts.Root, storage.Options{
		Fs:          opts.Fs,
		Coordinator: opts.Coordinator,
		Extension:   opts.Extension,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	if err := w.CreateDirectoryIfNotThere(); err != nil {
		return nil, fmt.Errorf("hammer: %w", err)
	}
	if opts.Coordinator == nil {
		mode := coord.ModeFlock
		if _, isOS := w.FileSystem().(*afero.OsFs); !isOS {
			mode = coord.ModeLocal
		}
		c, err := coord.New(mode, filepath.Join(w.Root(), storage.LockDirName))
		if err != nil {
			return nil, fmt.Errorf("hammer: %w", err)
		}
		w.SetCoordinator(c)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	enc := coder.New()
	now := time.Now().UTC()
	ids := make([]models.ObjectID, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range n {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ref := storage.NewRef()
			values := Values(entity, i+1, ref, now)
			data, err := enc.Encode(values, entity)
			if err != nil {
				return err
			}
			it := w.ItemForRef(entity.Name, ref)
			it.SetContent(data)
			if err := it.WriteContent(); err != nil {
				return err
			}
			ids[i] = models.ObjectID{Entity: entity.Name, Ref: ref}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hammer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("hammer: records written", slog.String("entity", entity.Name), slog.Int("count", n))
	return ids, nil
}

// Values generates a value for every attribute of entity. Strings read
// "For <seq> - <ref>"; dates fall within DateSpread before now.
func Values(entity *schema.Entity, seq int, ref string, now time.Time) models.Attributes {
	out := make(models.Attributes, len(entity.Attributes))
	for _, a := range entity.Attributes {
		switch a.Type {
		case schema.TypeString:
			out[a.Name] = fmt.Sprintf("For %d - %s", seq, ref)
		case schema.TypeDate:
			out[a.Name] = now.Add(-rand.N(DateSpread)).Truncate(time.Second)
		case schema.TypeInteger16:
			out[a.Name] = rand.Int64N(1 << 15)
		case schema.TypeInteger32:
			out[a.Name] = rand.Int64N(1 << 31)
		case schema.TypeInteger64:
			out[a.Name] = rand.Int64()
		case schema.TypeDouble:
			out[a.Name] = rand.Float64() * 1000
		case schema.TypeBoolean:
			out[a.Name] = rand.IntN(2) == 1
		case schema.TypeBinary:
			b := make([]byte, 16)
			for i := range b {
				b[i] = byte(rand.IntN(256))
			}
			out[a.Name] = b
		}
	}
	return out
}
