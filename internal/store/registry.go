package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/schema"
)

// StoreType is the name under which the file-backed engine registers.
const StoreType = "raido.file"

// Store is the contract a registered store type fulfils.
type Store interface {
	Execute(ctx context.Context, req Request) (Result, error)
	ValuesFor(ctx context.Context, id models.ObjectID) (models.Attributes, error)
	ObtainRefs(entity string, n int) ([]models.ObjectID, error)
	ReleaseRefs(ids []models.ObjectID)
	AddObserver(o Observer) (remove func())
	Reconcile(ctx context.Context) (ReconcileStats, error)
	Model() *schema.Model
	Close() error
}

var _ Store = (*Engine)(nil)

// Factory builds a store from options.
type Factory func(Options) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a store type available under name. It panics when name
// is empty, f is nil or name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || f == nil {
		panic("store: Register with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic("store: Register called twice for " + name)
	}
	registry[name] = f
}

// Open instantiates the store type registered under name.
func Open(name string, opts Options) (Store, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown store type %q (registered: %v)", name, Types())
	}
	return f(opts)
}

// Types returns the registered store type names.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(StoreType, func(opts Options) (Store, error) {
		e, err := New(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	})
}
