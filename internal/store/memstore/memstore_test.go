package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/store"
	"github.com/stratum-mcp/stratum/internal/store/memstore"
)

func newRecord(level hierarchy.Level, id, owner string) *hierarchy.Record {
	return &hierarchy.Record{
		Ref:     hierarchy.Ref{Level: level, ID: id},
		OwnerID: owner,
		Data:    hierarchy.DataFromPairs("k", "v"),
		Version: 1,
	}
}

func TestGet_NotFound(t *testing.T) {
	s := memstore.New()
	_, err := s.Get(context.Background(), hierarchy.LevelTask, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsert_InsertThenUpdate(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	rec := newRecord(hierarchy.LevelProject, "p1", "u1")

	if err := s.Upsert(ctx, rec, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec2 := rec.Clone()
	rec2.Version = 2
	rec2.Data.Set("k", "v2")
	if err := s.Upsert(ctx, rec2, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, hierarchy.LevelProject, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if v, _ := got.Data.Get("k"); v != "v2" {
		t.Errorf("k = %v, want v2", v)
	}
}

func TestUpsert_VersionConflicts(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	rec := newRecord(hierarchy.LevelBranch, "b1", "u1")

	if err := s.Upsert(ctx, rec, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Second insert-at-version-0 must conflict.
	if err := s.Upsert(ctx, rec, 0); !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("duplicate insert err = %v, want ErrVersionConflict", err)
	}
	// Update expecting a stale version must conflict.
	stale := rec.Clone()
	stale.Version = 5
	if err := s.Upsert(ctx, stale, 4); !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}
}

func TestCreateIfAbsent_ReturnsExisting(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	first := newRecord(hierarchy.LevelGlobal, "g1", "u1")
	got, created, err := s.CreateIfAbsent(ctx, first)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if got.Ref != first.Ref {
		t.Errorf("ref = %v, want %v", got.Ref, first.Ref)
	}

	second := newRecord(hierarchy.LevelGlobal, "g1", "u1")
	second.Data.Set("k", "other")
	got2, created, err := s.CreateIfAbsent(ctx, second)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("second create should not insert")
	}
	if v, _ := got2.Data.Get("k"); v != "v" {
		t.Errorf("existing row data overwritten: k = %v", v)
	}
}

func TestDelete(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	rec := newRecord(hierarchy.LevelTask, "t1", "u1")

	if err := s.Upsert(ctx, rec, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Delete(ctx, hierarchy.LevelTask, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, hierarchy.LevelTask, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	rec := newRecord(hierarchy.LevelTask, "t1", "u1")
	if err := s.Upsert(ctx, rec, 0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := s.Get(ctx, hierarchy.LevelTask, "t1")
	got.Data.Set("k", "mutated")

	again, _ := s.Get(ctx, hierarchy.LevelTask, "t1")
	if v, _ := again.Data.Get("k"); v != "v" {
		t.Errorf("stored record mutated through returned copy: k = %v", v)
	}
}
