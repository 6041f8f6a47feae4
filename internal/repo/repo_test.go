package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/store/memstore"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	cfg := config.Default().Backend
	cfg.RetryBackoff = time.Millisecond
	return repo.New(memstore.New(), cfg, nil)
}

// ─── EnsureGlobal ───────────────────────────────────────────────────────────

func TestEnsureGlobal_CreatesSingleton(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	rec, err := r.EnsureGlobal(ctx, "u1")
	if err != nil {
		t.Fatalf("EnsureGlobal: %v", err)
	}
	if rec.Ref.ID != hierarchy.GlobalID("u1") {
		t.Errorf("id = %q, want deterministic global id", rec.Ref.ID)
	}
	if rec.OwnerID != "u1" {
		t.Errorf("owner = %q, want u1", rec.OwnerID)
	}

	again, err := r.EnsureGlobal(ctx, "u1")
	if err != nil {
		t.Fatalf("second EnsureGlobal: %v", err)
	}
	if again.Ref.ID != rec.Ref.ID {
		t.Errorf("repeated bootstrap produced a different id: %q vs %q", again.Ref.ID, rec.Ref.ID)
	}
}

func TestEnsureGlobal_ConcurrentBootstrap(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := r.EnsureGlobal(ctx, "u1")
			if err != nil {
				t.Errorf("concurrent EnsureGlobal: %v", err)
				return
			}
			ids[i] = rec.Ref.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("bootstrap diverged: ids[%d]=%q ids[0]=%q", i, ids[i], ids[0])
		}
	}
}

func TestEnsureGlobal_NoIdentity(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.EnsureGlobal(context.Background(), "")
	if !hierarchy.IsAuthenticationRequired(err) {
		t.Errorf("err = %v, want AuthenticationRequired", err)
	}
}

// ─── Ownership isolation ────────────────────────────────────────────────────

func TestGet_CrossUserDenied(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Upsert(ctx, hierarchy.LevelProject, "p1", "alice", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("secret", "alice-only"),
	}); err != nil {
		t.Fatalf("alice upsert: %v", err)
	}

	_, err := r.Get(ctx, hierarchy.LevelProject, "p1", "bob")
	if !hierarchy.IsAccessDenied(err) {
		t.Errorf("bob's read err = %v, want AccessDenied", err)
	}
}

func TestUpsert_CrossUserDenied(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Upsert(ctx, hierarchy.LevelBranch, "b1", "alice", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("k", "v"),
	}); err != nil {
		t.Fatalf("alice upsert: %v", err)
	}

	_, err := r.Upsert(ctx, hierarchy.LevelBranch, "b1", "bob", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("k", "stolen"),
	})
	if !hierarchy.IsAccessDenied(err) {
		t.Errorf("bob's write err = %v, want AccessDenied", err)
	}

	got, err := r.Get(ctx, hierarchy.LevelBranch, "b1", "alice")
	if err != nil {
		t.Fatalf("alice re-read: %v", err)
	}
	if v, _ := got.Data.Get("k"); v != "v" {
		t.Errorf("record mutated by denied writer: k = %v", v)
	}
}

func TestUpsert_GlobalIDMustMatchCaller(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Upsert(context.Background(), hierarchy.LevelGlobal, hierarchy.GlobalID("bob"), "alice", repo.UpsertParams{})
	if !hierarchy.IsAccessDenied(err) {
		t.Errorf("err = %v, want AccessDenied", err)
	}
}

// ─── Upsert semantics ───────────────────────────────────────────────────────

func TestUpsert_CreatesLazilyAndVersions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	rec, err := r.Upsert(ctx, hierarchy.LevelTask, "t1", "u1", repo.UpsertParams{
		Patch:  hierarchy.DataFromPairs("a", 1),
		Parent: hierarchy.Ref{Level: hierarchy.LevelBranch, ID: "b1"},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Version)
	}
	if rec.Parent.ID != "b1" {
		t.Errorf("parent = %v, want branch/b1", rec.Parent)
	}

	rec, err = r.Upsert(ctx, hierarchy.LevelTask, "t1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("b", 2),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("version = %d, want 2", rec.Version)
	}
	if _, ok := rec.Data.Get("a"); !ok {
		t.Error("patch dropped existing key")
	}
}

func TestUpsert_NilValueDeletesKey(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Upsert(ctx, hierarchy.LevelProject, "p1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("keep", 1, "drop", 2),
	}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	rec, err := r.Upsert(ctx, hierarchy.LevelProject, "p1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("drop", nil),
	})
	if err != nil {
		t.Fatalf("delete-key upsert: %v", err)
	}
	if _, ok := rec.Data.Get("drop"); ok {
		t.Error("nil patch value should remove the key")
	}
	if _, ok := rec.Data.Get("keep"); !ok {
		t.Error("unrelated key removed")
	}
}

func TestUpsert_ProjectParentIsCallersGlobal(t *testing.T) {
	r := newTestRepo(t)
	rec, err := r.Upsert(context.Background(), hierarchy.LevelProject, "p1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("k", "v"),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Parent != hierarchy.GlobalRef("u1") {
		t.Errorf("project parent = %v, want the caller's global ref", rec.Parent)
	}
}

func TestUpsert_RejectsWrongParentLevel(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Upsert(context.Background(), hierarchy.LevelTask, "t1", "u1", repo.UpsertParams{
		Parent: hierarchy.Ref{Level: hierarchy.LevelProject, ID: "p1"},
	})
	if err == nil {
		t.Error("task linked to a project should be rejected")
	}
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func TestDelete_MissingRecordIsNotFound(t *testing.T) {
	r := newTestRepo(t)
	err := r.Delete(context.Background(), hierarchy.LevelBranch, "ghost", "u1")
	if !hierarchy.IsNotFound(err) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

// ─── Mutation events ────────────────────────────────────────────────────────

func TestMutationEvents_FireSynchronously(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	var events []repo.Event
	r.OnMutation(func(ev repo.Event) { events = append(events, ev) })

	if _, err := r.Upsert(ctx, hierarchy.LevelTask, "t1", "u1", repo.UpsertParams{
		Patch: hierarchy.DataFromPairs("k", "v"),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Delete(ctx, hierarchy.LevelTask, "t1", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	if events[0].Op != repo.OpUpsert || events[0].Ref.ID != "t1" || events[0].UserID != "u1" {
		t.Errorf("upsert event = %+v", events[0])
	}
	if events[1].Op != repo.OpDelete {
		t.Errorf("delete event = %+v", events[1])
	}
}

func TestMutationEvents_NotFiredOnDeniedWrite(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Upsert(ctx, hierarchy.LevelTask, "t1", "alice", repo.UpsertParams{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var fired int
	r.OnMutation(func(repo.Event) { fired++ })

	if _, err := r.Upsert(ctx, hierarchy.LevelTask, "t1", "bob", repo.UpsertParams{}); !hierarchy.IsAccessDenied(err) {
		t.Fatalf("err = %v, want AccessDenied", err)
	}
	if fired != 0 {
		t.Errorf("denied write emitted %d events", fired)
	}
}
