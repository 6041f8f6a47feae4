// Package memstore is the in-process storage backend. It backs tests and
// single-shot agent sessions that don't need persistence across restarts.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/store"
)

func init() {
	store.Register("memory", func(ctx context.Context, cfg config.BackendConfig) (store.Adapter, error) {
		return New(), nil
	})
}

// Store keeps all records in a mutex-guarded map. Records are cloned on
// every boundary crossing so callers never share mutable state.
type Store struct {
	mu   sync.RWMutex
	rows map[hierarchy.Ref]*hierarchy.Record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{rows: make(map[hierarchy.Ref]*hierarchy.Record)}
}

func (s *Store) Get(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rows[hierarchy.Ref{Level: level, ID: id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Upsert(ctx context.Context, rec *hierarchy.Record, expectVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[rec.Ref]
	switch {
	case expectVersion == 0 && ok:
		return store.ErrVersionConflict
	case expectVersion > 0 && (!ok || existing.Version != expectVersion):
		return store.ErrVersionConflict
	}

	cp := rec.Clone()
	if ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.rows[rec.Ref] = cp
	return nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, rec *hierarchy.Record) (*hierarchy.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[rec.Ref]; ok {
		return existing.Clone(), false, nil
	}
	cp := rec.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
		cp.UpdatedAt = cp.CreatedAt
	}
	s.rows[rec.Ref] = cp
	return cp.Clone(), true, nil
}

func (s *Store) Delete(ctx context.Context, level hierarchy.Level, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := hierarchy.Ref{Level: level, ID: id}
	if _, ok := s.rows[ref]; !ok {
		return store.ErrNotFound
	}
	delete(s.rows, ref)
	return nil
}

func (s *Store) Kind() string { return "memory" }

func (s *Store) Close() error { return nil }
