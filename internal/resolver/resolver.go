// Package resolver produces resolved views: a context record merged with its
// whole ancestor chain, cache-first, with per-record dependency tracking.
package resolver

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/rescache"
)

// Resolver walks the GLOBAL←PROJECT←BRANCH←TASK chain through the
// user-scoped repository and merges it per the hierarchy rules. Cached views
// are consulted first; concurrent misses for the same key are coalesced into
// one storage walk.
type Resolver struct {
	repo  *repo.Repository
	cache *rescache.Cache
	group singleflight.Group
	log   *slog.Logger
}

// New wires a resolver over the repository and cache. It also subscribes the
// cache to the repository's mutation events, so every committed write
// invalidates dependent views before the write call returns.
func New(r *repo.Repository, cache *rescache.Cache, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	res := &Resolver{
		repo:  r,
		cache: cache,
		log:   log.With("component", "resolver"),
	}
	r.OnMutation(func(ev repo.Event) {
		cache.InvalidateRecord(ev.Ref)
	})
	return res
}

// Resolve returns the merged view for (level, id) as seen by userID.
// An empty id at GLOBAL resolves the caller's own global record.
func (r *Resolver) Resolve(ctx context.Context, level hierarchy.Level, id, userID string) (*hierarchy.ResolvedView, error) {
	if userID == "" {
		return nil, hierarchy.NewError(hierarchy.KindAuthenticationRequired, level, id, "no verified user identity")
	}
	// The tool layer parses levels, but a bogus level reaching the cache
	// would map to a zero TTL, and ttlcache treats that as never-expiring.
	if !level.Valid() {
		return nil, hierarchy.NewError(hierarchy.KindNotFound, level, id, "unknown level")
	}
	if level == hierarchy.LevelGlobal && id == "" {
		id = hierarchy.GlobalID(userID)
	}

	key := rescache.Key{UserID: userID, Level: level, ID: id}
	if view := r.cache.Get(key); view != nil {
		return view, nil
	}

	// Coalesce concurrent misses for the same key into one walk.
	v, err, _ := r.group.Do(key.UserID+"\x00"+string(key.Level)+"\x00"+key.ID, func() (any, error) {
		if view := r.cache.Get(key); view != nil {
			return view, nil
		}
		return r.resolveUncached(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*hierarchy.ResolvedView), nil
}

// resolveUncached walks the chain and populates the cache. Each record's
// invalidation epoch is snapshotted before that record is read, so a write
// landing mid-walk breaks the fence and the stale put is discarded.
func (r *Resolver) resolveUncached(ctx context.Context, key rescache.Key) (*hierarchy.ResolvedView, error) {
	target := hierarchy.Ref{Level: key.Level, ID: key.ID}
	fence := rescache.Fence{}
	var deps []hierarchy.Ref

	track := func(ref hierarchy.Ref) {
		for dep, epoch := range r.cache.Snapshot([]hierarchy.Ref{ref}) {
			fence[dep] = epoch
		}
		deps = append(deps, ref)
	}

	// The GLOBAL root always exists: bootstrap it on first access.
	globalRef := hierarchy.GlobalRef(key.UserID)
	track(globalRef)
	global, err := r.repo.EnsureGlobal(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	// Walk upward from the target, most specific first. Missing levels
	// resolve as empty records but stay in the dependency set, so a later
	// write that creates the level still invalidates this view.
	var lineage []*hierarchy.Record // descendant-first
	cur := target
	for !cur.IsZero() && cur != globalRef {
		track(cur)
		rec, err := r.repo.Get(ctx, cur.Level, cur.ID, key.UserID)
		if err != nil {
			if hierarchy.IsNotFound(err) {
				if cur != target {
					// Dangling parent_ref: resolve from the ancestors that
					// do exist.
					r.log.Warn("dangling parent ref during resolve",
						"target", target.String(), "missing", cur.String(), "user", key.UserID)
				}
				break
			}
			return nil, err
		}
		lineage = append(lineage, rec)
		if len(lineage) > len(hierarchy.Levels) {
			// The chain is strictly linear; anything longer is corrupt.
			r.log.Warn("parent chain exceeds hierarchy depth", "target", target.String())
			break
		}
		cur = rec.Parent
	}

	// Ancestor-first chain: GLOBAL, then the walked lineage reversed.
	chain := make([]*hierarchy.Record, 0, len(lineage)+1)
	chain = append(chain, global)
	for i := len(lineage) - 1; i >= 0; i-- {
		chain = append(chain, lineage[i])
	}

	view := hierarchy.Merge(target, key.UserID, chain)
	r.cache.Put(key, view, deps, fence)
	return view, nil
}
