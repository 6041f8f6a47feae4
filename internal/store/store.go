// Package store defines the adapter-neutral storage contract for context
// records and the factory that selects one concrete backend at startup.
//
// Backends register themselves from their package init (sqlite, postgres,
// memory); the composition root blank-imports the ones it ships. Resolution
// and caching logic never sees anything but the Adapter interface, so
// swapping backends never changes behavior.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// ErrNotFound is returned by Get and Delete when no row matches (level, id).
var ErrNotFound = errors.New("store: record not found")

// ErrVersionConflict is returned by Upsert when the row's stored version does
// not match the expected one — a concurrent writer got there first.
var ErrVersionConflict = errors.New("store: version conflict")

// Adapter is uniform CRUD over persisted context records for one storage
// technology. Implementations must be safe for concurrent use.
//
// Adapters know nothing about users beyond storing owner_user_id verbatim;
// ownership enforcement lives in the repository layer.
type Adapter interface {
	// Get returns the record at (level, id), or ErrNotFound.
	Get(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error)

	// Upsert writes rec. expectVersion 0 requires the row to be absent
	// (insert); a positive expectVersion requires the stored version to
	// match (update). On mismatch it returns ErrVersionConflict.
	Upsert(ctx context.Context, rec *hierarchy.Record, expectVersion int64) error

	// CreateIfAbsent inserts rec unless a row already exists at its ref, in
	// which case the existing row is returned. The second result reports
	// whether an insert happened. This is the atomic get-or-create behind
	// the per-user GLOBAL bootstrap.
	CreateIfAbsent(ctx context.Context, rec *hierarchy.Record) (*hierarchy.Record, bool, error)

	// Delete removes the row at (level, id), or returns ErrNotFound.
	Delete(ctx context.Context, level hierarchy.Level, id string) error

	// Kind names the backend technology ("sqlite", "postgres", "memory").
	Kind() string

	Close() error
}

// Loader constructs an Adapter from the backend configuration.
type Loader func(ctx context.Context, cfg config.BackendConfig) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Loader{}
)

// Register makes a backend available to Open under the given kind.
// Called from backend package init; duplicate registration panics.
func Register(kind string, loader Loader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("store: backend %q registered twice", kind))
	}
	registry[kind] = loader
}

// Open selects and constructs the configured backend. It runs once at
// process start; the returned adapter is shared for the process lifetime.
func Open(ctx context.Context, cfg config.BackendConfig) (Adapter, error) {
	registryMu.RLock()
	loader, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown backend %q (registered: %v)", cfg.Kind, registered())
	}
	adapter, err := loader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open %s backend: %w", cfg.Kind, err)
	}
	return adapter, nil
}

func registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
