// Package facade is the single entry point the tool surface talks to. It
// pulls the verified user from the request context and dispatches to the
// repository, resolver, and delegation service; nothing above it ever handles
// a user id directly.
package facade

import (
	"context"
	"log/slog"

	"github.com/stratum-mcp/stratum/internal/delegate"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/identity"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/rescache"
	"github.com/stratum-mcp/stratum/internal/resolver"
)

// Facade bundles the context engine behind one API.
type Facade struct {
	repo     *repo.Repository
	resolver *resolver.Resolver
	delegate *delegate.Service
	cache    *rescache.Cache
	log      *slog.Logger
}

// New assembles the facade over already-wired components.
func New(r *repo.Repository, res *resolver.Resolver, del *delegate.Service, cache *rescache.Cache, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{
		repo:     r,
		resolver: res,
		delegate: del,
		cache:    cache,
		log:      log.With("component", "facade"),
	}
}

// UpdateParams carries an update request: the patch to apply and, for new
// BRANCH/TASK records, the parent link to establish.
type UpdateParams struct {
	Patch  *hierarchy.Data
	Parent hierarchy.Ref
}

// Stats is an operational snapshot of the engine.
type Stats struct {
	BackendKind     string `json:"backend_kind"`
	CachedViews     int    `json:"cached_views"`
	CacheHits       uint64 `json:"cache_hits"`
	CacheMisses     uint64 `json:"cache_misses"`
	CacheInsertions uint64 `json:"cache_insertions"`
	CacheEvictions  uint64 `json:"cache_evictions"`
}

// GetResolved returns the caller's merged view of (level, id).
func (f *Facade) GetResolved(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.ResolvedView, error) {
	userID, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return f.resolver.Resolve(ctx, level, id, userID)
}

// Update applies a patch to the caller's record at (level, id), creating it
// if needed. An empty id at GLOBAL targets the caller's own root.
func (f *Facade) Update(ctx context.Context, level hierarchy.Level, id string, params UpdateParams) (*hierarchy.Record, error) {
	userID, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if level == hierarchy.LevelGlobal && id == "" {
		id = hierarchy.GlobalID(userID)
	}
	return f.repo.Upsert(ctx, level, id, userID, repo.UpsertParams{
		Patch:  params.Patch,
		Parent: params.Parent,
	})
}

// Delegate promotes payload from source to one of its strict ancestors.
func (f *Facade) Delegate(ctx context.Context, source, target hierarchy.Ref, payload *hierarchy.Data) (*hierarchy.Record, error) {
	userID, err := identity.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return f.delegate.Delegate(ctx, source, target, payload, userID)
}

// Delete removes the caller's record at (level, id). Dependent cached views
// are invalidated through the repository's mutation events.
func (f *Facade) Delete(ctx context.Context, level hierarchy.Level, id string) error {
	userID, err := identity.FromContext(ctx)
	if err != nil {
		return err
	}
	return f.repo.Delete(ctx, level, id, userID)
}

// Stats reports cache and backend counters. It needs an authenticated caller
// like every other operation, even though the numbers are process-wide.
func (f *Facade) Stats(ctx context.Context) (*Stats, error) {
	if _, err := identity.FromContext(ctx); err != nil {
		return nil, err
	}
	m := f.cache.Metrics()
	return &Stats{
		BackendKind:     f.repo.BackendKind(),
		CachedViews:     f.cache.Len(),
		CacheHits:       m.Hits,
		CacheMisses:     m.Misses,
		CacheInsertions: m.Insertions,
		CacheEvictions:  m.Evictions,
	}, nil
}
