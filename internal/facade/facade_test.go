package facade_test

import (
	"context"
	"testing"
	"time"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/delegate"
	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/identity"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/rescache"
	"github.com/stratum-mcp/stratum/internal/resolver"
	"github.com/stratum-mcp/stratum/internal/store/memstore"
)

func newFacade(t *testing.T) *facade.Facade {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.RetryBackoff = time.Millisecond
	r := repo.New(memstore.New(), cfg.Backend, nil)
	cache := rescache.New(cfg.Cache)
	t.Cleanup(cache.Stop)
	res := resolver.New(r, cache, nil)
	del := delegate.New(r, cfg.Delegation, nil)
	return facade.New(r, res, del, cache, nil)
}

func asUser(user string) context.Context {
	return identity.WithUser(context.Background(), user)
}

func TestReadAfterWrite(t *testing.T) {
	f := newFacade(t)
	ctx := asUser("u1")

	if _, err := f.Update(ctx, hierarchy.LevelProject, "p1", facade.UpdateParams{
		Patch: hierarchy.DataFromPairs("lang", "go"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.Update(ctx, hierarchy.LevelTask, "t1", facade.UpdateParams{
		Patch:  hierarchy.DataFromPairs("step", 1),
		Parent: hierarchy.Ref{Level: hierarchy.LevelProject, ID: "p1"},
	}); err != nil {
		t.Fatalf("update task: %v", err)
	}

	view, err := f.GetResolved(ctx, hierarchy.LevelTask, "t1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v, _ := view.Data.Get("lang"); v != "go" {
		t.Errorf("lang = %v, want inherited project value", v)
	}

	// A second write must be visible through the cached path immediately.
	if _, err := f.Update(ctx, hierarchy.LevelProject, "p1", facade.UpdateParams{
		Patch: hierarchy.DataFromPairs("lang", "rust"),
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	view, err = f.GetResolved(ctx, hierarchy.LevelTask, "t1")
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if v, _ := view.Data.Get("lang"); v != "rust" {
		t.Errorf("lang = %v, want rust after read-after-write", v)
	}
}

func TestDeleteReflectsInDescendantViews(t *testing.T) {
	f := newFacade(t)
	ctx := asUser("u1")

	if _, err := f.Update(ctx, hierarchy.LevelBranch, "b1", facade.UpdateParams{
		Patch: hierarchy.DataFromPairs("wip", true),
	}); err != nil {
		t.Fatalf("update branch: %v", err)
	}
	if _, err := f.Update(ctx, hierarchy.LevelTask, "t1", facade.UpdateParams{
		Parent: hierarchy.Ref{Level: hierarchy.LevelBranch, ID: "b1"},
	}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	if view, err := f.GetResolved(ctx, hierarchy.LevelTask, "t1"); err != nil {
		t.Fatalf("warm resolve: %v", err)
	} else if _, ok := view.Data.Get("wip"); !ok {
		t.Fatal("branch data should be inherited")
	}

	if err := f.Delete(ctx, hierarchy.LevelBranch, "b1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	view, err := f.GetResolved(ctx, hierarchy.LevelTask, "t1")
	if err != nil {
		t.Fatalf("resolve after delete: %v", err)
	}
	if _, ok := view.Data.Get("wip"); ok {
		t.Error("deleted branch's data still visible")
	}
}

func TestDelegateThroughFacade(t *testing.T) {
	f := newFacade(t)
	ctx := asUser("u1")

	if _, err := f.Update(ctx, hierarchy.LevelProject, "p1", facade.UpdateParams{}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if _, err := f.Update(ctx, hierarchy.LevelTask, "t1", facade.UpdateParams{
		Parent: hierarchy.Ref{Level: hierarchy.LevelProject, ID: "p1"},
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	rec, err := f.Delegate(ctx,
		hierarchy.Ref{Level: hierarchy.LevelTask, ID: "t1"},
		hierarchy.Ref{Level: hierarchy.LevelProject, ID: "p1"},
		hierarchy.DataFromPairs("insight", "cache the parser"))
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if v, _ := rec.Data.Get("insight"); v != "cache the parser" {
		t.Errorf("insight = %v, not promoted", v)
	}
}

func TestMissingIdentityFailsEverywhere(t *testing.T) {
	f := newFacade(t)
	ctx := context.Background() // no principal attached

	if _, err := f.GetResolved(ctx, hierarchy.LevelGlobal, ""); !hierarchy.IsAuthenticationRequired(err) {
		t.Errorf("GetResolved err = %v, want AuthenticationRequired", err)
	}
	if _, err := f.Update(ctx, hierarchy.LevelProject, "p1", facade.UpdateParams{}); !hierarchy.IsAuthenticationRequired(err) {
		t.Errorf("Update err = %v, want AuthenticationRequired", err)
	}
	if err := f.Delete(ctx, hierarchy.LevelProject, "p1"); !hierarchy.IsAuthenticationRequired(err) {
		t.Errorf("Delete err = %v, want AuthenticationRequired", err)
	}
	if _, err := f.Stats(ctx); !hierarchy.IsAuthenticationRequired(err) {
		t.Errorf("Stats err = %v, want AuthenticationRequired", err)
	}
}

func TestStats(t *testing.T) {
	f := newFacade(t)
	ctx := asUser("u1")

	if _, err := f.GetResolved(ctx, hierarchy.LevelGlobal, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stats, err := f.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.BackendKind != "memory" {
		t.Errorf("backend = %q, want memory", stats.BackendKind)
	}
	if stats.CachedViews == 0 {
		t.Error("resolve should have populated the cache")
	}
}
