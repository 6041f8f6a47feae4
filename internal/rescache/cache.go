// Package rescache caches fully-merged resolved views with per-level TTLs.
//
// Alongside the forward TTL store it keeps a reverse index from record refs
// to the cache keys whose views were computed from them, so invalidating a
// mutated record costs O(dependents) instead of a full scan. An invalidation
// epoch per record ref fences racing writers: a resolve that read data which
// was invalidated mid-flight gets its Put discarded instead of poisoning the
// cache with a stale view.
package rescache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// Key addresses one cached resolved view. The user id is part of the key, so
// one user's entry can never answer another user's lookup.
type Key struct {
	UserID string
	Level  hierarchy.Level
	ID     string
}

// Fence is an epoch snapshot of a dependency set, taken before the storage
// reads that feed a Put. Invalidation always wins over a racing put.
type Fence map[hierarchy.Ref]uint64

// Cache is the resolved-view cache.
type Cache struct {
	views *ttlcache.Cache[Key, *hierarchy.ResolvedView]
	ttls  map[hierarchy.Level]time.Duration

	// mu guards the dependency indexes and epochs. Lookups go straight to
	// the TTL store and never take it; only puts and invalidations do.
	mu      sync.Mutex
	deps    map[hierarchy.Ref]map[Key]struct{}
	keyDeps map[Key][]hierarchy.Ref
	byUser  map[string]map[Key]struct{}

	// epochs grows by one small entry per ref ever invalidated and is never
	// pruned: an epoch may only be dropped when no in-flight snapshot can
	// still reference it, and tracking that would cost more than the map.
	// The key space is bounded by the records the process actually touches.
	epochs map[hierarchy.Ref]uint64
}

// New creates a cache with the configured per-level TTLs and starts its
// expiry loop. Call Stop on shutdown.
func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		views: ttlcache.New[Key, *hierarchy.ResolvedView](
			ttlcache.WithDisableTouchOnHit[Key, *hierarchy.ResolvedView](),
		),
		ttls: map[hierarchy.Level]time.Duration{
			hierarchy.LevelGlobal:  cfg.GlobalTTL,
			hierarchy.LevelProject: cfg.ProjectTTL,
			hierarchy.LevelBranch:  cfg.BranchTTL,
			hierarchy.LevelTask:    cfg.TaskTTL,
		},
		deps:    make(map[hierarchy.Ref]map[Key]struct{}),
		keyDeps: make(map[Key][]hierarchy.Ref),
		byUser:  make(map[string]map[Key]struct{}),
		epochs:  make(map[hierarchy.Ref]uint64),
	}

	// TTL expiry also has to clear the reverse index, or it would pin keys
	// for records that are never mutated again.
	c.views.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, *hierarchy.ResolvedView]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return // explicit invalidation already unindexed it
		}
		c.mu.Lock()
		c.unindex(item.Key())
		c.mu.Unlock()
	})

	go c.views.Start()
	return c
}

// Stop terminates the expiry loop.
func (c *Cache) Stop() {
	c.views.Stop()
}

// Get returns a fresh cached view, or nil on miss/expiry.
func (c *Cache) Get(key Key) *hierarchy.ResolvedView {
	item := c.views.Get(key)
	if item == nil {
		return nil
	}
	view := item.Value()
	if view == nil || view.OwnerID != key.UserID {
		// The key embeds the user id, so this only trips on a programming
		// error upstream; serving it anyway would cross tenants.
		return nil
	}
	return view
}

// Snapshot captures the invalidation epochs of a dependency set. Take it
// before reading any of the records that will feed the Put.
func (c *Cache) Snapshot(deps []hierarchy.Ref) Fence {
	c.mu.Lock()
	defer c.mu.Unlock()
	fence := make(Fence, len(deps))
	for _, ref := range deps {
		fence[ref] = c.epochs[ref]
	}
	return fence
}

// putBarrier runs between index registration and the forward-store write.
// Test seam only.
var putBarrier = func() {}

// Put stores a resolved view computed from deps, unless any dependency was
// invalidated after the fence snapshot, in which case the view is already
// stale and the put is discarded. Returns whether the view was stored.
func (c *Cache) Put(key Key, view *hierarchy.ResolvedView, deps []hierarchy.Ref, fence Fence) bool {
	ttl := c.ttls[key.Level]

	c.mu.Lock()
	for _, ref := range deps {
		if c.epochs[ref] != fence[ref] {
			c.mu.Unlock()
			return false
		}
	}

	// Replacing an entry re-indexes it under the new dependency set.
	c.unindex(key)
	c.keyDeps[key] = append([]hierarchy.Ref(nil), deps...)
	for _, ref := range deps {
		if c.deps[ref] == nil {
			c.deps[ref] = make(map[Key]struct{})
		}
		c.deps[ref][key] = struct{}{}
	}
	if c.byUser[key.UserID] == nil {
		c.byUser[key.UserID] = make(map[Key]struct{})
	}
	c.byUser[key.UserID][key] = struct{}{}
	c.mu.Unlock()

	putBarrier()
	c.views.Set(key, view, ttl)

	// An invalidation can land between the unlock above and Set. It would
	// unindex this key and Delete a not-yet-stored entry (a no-op), leaving
	// the stale view stranded with nothing pointing at it. Re-check the
	// fence after the write and take the entry back out on mismatch, so
	// invalidation wins regardless of which side loses the race. The lock
	// is never held across ttlcache calls (OnEviction would deadlock).
	c.mu.Lock()
	stale := false
	for _, ref := range deps {
		if c.epochs[ref] != fence[ref] {
			stale = true
			break
		}
	}
	if stale {
		c.unindex(key)
	}
	c.mu.Unlock()

	if stale {
		c.views.Delete(key)
		return false
	}
	return true
}

// InvalidateRecord evicts every cached view whose dependency set contains
// ref, and advances ref's epoch so racing puts computed from the old data
// are discarded.
func (c *Cache) InvalidateRecord(ref hierarchy.Ref) {
	c.mu.Lock()
	c.epochs[ref]++
	victims := make([]Key, 0, len(c.deps[ref]))
	for key := range c.deps[ref] {
		victims = append(victims, key)
	}
	for _, key := range victims {
		c.unindex(key)
	}
	c.mu.Unlock()

	for _, key := range victims {
		c.views.Delete(key)
	}
}

// InvalidateUser evicts every cached view belonging to userID.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	victims := make([]Key, 0, len(c.byUser[userID]))
	for key := range c.byUser[userID] {
		victims = append(victims, key)
	}
	for _, key := range victims {
		// Bump each dependency's epoch so in-flight resolves for this user
		// cannot restore a view computed before the purge.
		for _, ref := range c.keyDeps[key] {
			c.epochs[ref]++
		}
		c.unindex(key)
	}
	c.mu.Unlock()

	for _, key := range victims {
		c.views.Delete(key)
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.views.Len()
}

// Metrics exposes hit/miss/insertion/eviction counters.
func (c *Cache) Metrics() ttlcache.Metrics {
	return c.views.Metrics()
}

// unindex removes key from all indexes. Caller holds mu.
func (c *Cache) unindex(key Key) {
	for _, ref := range c.keyDeps[key] {
		if set := c.deps[ref]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(c.deps, ref)
			}
		}
	}
	delete(c.keyDeps, key)
	if set := c.byUser[key.UserID]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(c.byUser, key.UserID)
		}
	}
}
