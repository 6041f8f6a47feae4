package rescache

import (
	"testing"
	"time"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// An invalidation landing between Put's index registration and its
// forward-store write must still evict the view: the first delete hits a
// not-yet-stored key, so Put has to notice the epoch moved and take the
// entry back out itself.
func TestPut_InvalidationDuringForwardWriteWins(t *testing.T) {
	c := New(config.CacheConfig{
		GlobalTTL:  time.Minute,
		ProjectTTL: time.Minute,
		BranchTTL:  time.Minute,
		TaskTTL:    time.Minute,
	})
	t.Cleanup(c.Stop)

	branch := hierarchy.Ref{Level: hierarchy.LevelBranch, ID: "b1"}
	key := Key{UserID: "u1", Level: hierarchy.LevelTask, ID: "t1"}
	view := &hierarchy.ResolvedView{
		Ref:     hierarchy.Ref{Level: hierarchy.LevelTask, ID: "t1"},
		OwnerID: "u1",
		Data:    hierarchy.DataFromPairs("k", "stale"),
	}
	deps := []hierarchy.Ref{branch, {Level: hierarchy.LevelTask, ID: "t1"}}
	fence := c.Snapshot(deps)

	old := putBarrier
	putBarrier = func() { c.InvalidateRecord(branch) }
	defer func() { putBarrier = old }()

	if c.Put(key, view, deps, fence) {
		t.Error("put reported success despite a concurrent invalidation")
	}
	putBarrier = old

	if c.Get(key) != nil {
		t.Error("stale view served after the dependency was invalidated")
	}
	if c.Len() != 0 {
		t.Errorf("forward store holds %d entries, want 0", c.Len())
	}

	// The key must not be stranded in the indexes either.
	c.mu.Lock()
	_, indexed := c.keyDeps[key]
	c.mu.Unlock()
	if indexed {
		t.Error("discarded entry still present in the dependency index")
	}
}
