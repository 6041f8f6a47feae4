// Package repo is the user-scoped access layer over a storage adapter.
//
// Every operation verifies record ownership against the caller's user id
// before returning or mutating anything; an owner mismatch fails with
// AccessDenied and is never silently redirected to another identity. The
// repository also emits a synchronous mutation event for every successful
// upsert and delete, which the cache layer consumes for invalidation.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/store"
)

// casAttempts bounds the optimistic-concurrency retry loop on upsert.
const casAttempts = 5

// Op names a mutation type carried by an Event.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event describes one committed mutation. Listeners run synchronously inside
// the mutating call, before it returns, so a write followed by a read on the
// same session always observes the invalidation.
type Event struct {
	Op     Op
	Ref    hierarchy.Ref
	UserID string
}

// UpsertParams carries a patch plus an optional chain link.
type UpsertParams struct {
	// Patch is applied key-by-key: a nil value removes the key, anything
	// else sets it. Key order of new keys follows patch order.
	Patch *hierarchy.Data

	// Parent links the record to its immediate ancestor. Ignored when zero;
	// PROJECT records always link to the caller's GLOBAL record implicitly.
	Parent hierarchy.Ref
}

// Repository wraps an adapter with per-user ownership enforcement.
type Repository struct {
	adapter   store.Adapter
	cfg       config.BackendConfig
	log       *slog.Logger
	listeners []func(Event)
}

// New creates a Repository over the given adapter.
func New(adapter store.Adapter, cfg config.BackendConfig, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{
		adapter: adapter,
		cfg:     cfg,
		log:     log.With("component", "repo"),
	}
}

// OnMutation registers a listener for mutation events. Registration happens
// at wiring time, before traffic; listeners run synchronously.
func (r *Repository) OnMutation(fn func(Event)) {
	r.listeners = append(r.listeners, fn)
}

func (r *Repository) emit(ev Event) {
	for _, fn := range r.listeners {
		fn(ev)
	}
}

// BackendKind names the underlying storage technology.
func (r *Repository) BackendKind() string {
	return r.adapter.Kind()
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// requireUser rejects calls that reach the repository without a verified
// identity. There is no fallback user, shared or otherwise.
func requireUser(level hierarchy.Level, id, userID string) error {
	if userID == "" {
		return hierarchy.NewError(hierarchy.KindAuthenticationRequired, level, id, "no verified user identity")
	}
	return nil
}

// Get returns the record at (level, id) if it belongs to userID.
func (r *Repository) Get(ctx context.Context, level hierarchy.Level, id, userID string) (*hierarchy.Record, error) {
	if err := requireUser(level, id, userID); err != nil {
		return nil, err
	}
	rec, err := r.getRetry(ctx, level, id)
	if err != nil {
		return nil, err
	}
	if err := r.checkOwner(rec, userID); err != nil {
		return nil, err
	}
	return rec, nil
}

// getRetry reads with the configured timeout, retrying backend failures a
// bounded number of times with backoff. Reads are idempotent; writes never
// take this path.
func (r *Repository) getRetry(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error) {
	backoff := r.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= r.cfg.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, hierarchy.WrapBackend(level, id, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		rec, err := r.adapter.Get(callCtx, level, id)
		cancel()

		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, store.ErrNotFound):
			return nil, hierarchy.NewError(hierarchy.KindNotFound, level, id, "record does not exist")
		default:
			lastErr = err
		}
	}
	return nil, hierarchy.WrapBackend(level, id, lastErr)
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Upsert applies a patch to (level, id), creating the record on first write.
// The write is committed with an optimistic version check and retried against
// concurrent writers; the mutation event fires before Upsert returns.
func (r *Repository) Upsert(ctx context.Context, level hierarchy.Level, id, userID string, p UpsertParams) (*hierarchy.Record, error) {
	if err := requireUser(level, id, userID); err != nil {
		return nil, err
	}
	if level == hierarchy.LevelGlobal && id != hierarchy.GlobalID(userID) {
		return nil, hierarchy.NewError(hierarchy.KindAccessDenied, level, id,
			"global record id does not match the caller's derived id")
	}
	parent, err := r.chainParent(level, userID, p.Parent)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := r.getForWrite(ctx, level, id)
		if err != nil {
			return nil, err
		}

		var next *hierarchy.Record
		var expect int64
		if current == nil {
			next = &hierarchy.Record{
				Ref:       hierarchy.Ref{Level: level, ID: id},
				OwnerID:   userID,
				Parent:    parent,
				Data:      hierarchy.NewData(),
				Version:   1,
				CreatedAt: time.Now().UTC(),
			}
		} else {
			if err := r.checkOwner(current, userID); err != nil {
				return nil, err
			}
			next = current.Clone()
			next.Version = current.Version + 1
			expect = current.Version
			if !parent.IsZero() {
				next.Parent = parent
			}
		}
		applyPatch(next.Data, p.Patch)
		next.UpdatedAt = time.Now().UTC()

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err = r.adapter.Upsert(callCtx, next, expect)
		cancel()

		switch {
		case err == nil:
			r.emit(Event{Op: OpUpsert, Ref: next.Ref, UserID: userID})
			return next, nil
		case errors.Is(err, store.ErrVersionConflict):
			continue
		default:
			// Never silently retried: a non-idempotent patch could apply twice.
			return nil, hierarchy.WrapBackend(level, id, err)
		}
	}
	return nil, hierarchy.WrapBackend(level, id,
		fmt.Errorf("repo: upsert %s/%s: gave up after %d version conflicts", level, id, casAttempts))
}

// Delete removes the record at (level, id) and reports the purge downstream.
func (r *Repository) Delete(ctx context.Context, level hierarchy.Level, id, userID string) error {
	if err := requireUser(level, id, userID); err != nil {
		return err
	}
	current, err := r.getForWrite(ctx, level, id)
	if err != nil {
		return err
	}
	if current == nil {
		return hierarchy.NewError(hierarchy.KindNotFound, level, id, "record does not exist")
	}
	if err := r.checkOwner(current, userID); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	err = r.adapter.Delete(callCtx, level, id)
	cancel()

	switch {
	case err == nil:
		r.emit(Event{Op: OpDelete, Ref: hierarchy.Ref{Level: level, ID: id}, UserID: userID})
		return nil
	case errors.Is(err, store.ErrNotFound):
		// Raced with another deleter; the row is gone either way.
		r.emit(Event{Op: OpDelete, Ref: hierarchy.Ref{Level: level, ID: id}, UserID: userID})
		return nil
	default:
		return hierarchy.WrapBackend(level, id, err)
	}
}

// EnsureGlobal returns the caller's singleton GLOBAL record, creating it
// atomically on first access. Concurrent calls converge on one row because
// the id is derived from the user id and the insert is get-or-create.
func (r *Repository) EnsureGlobal(ctx context.Context, userID string) (*hierarchy.Record, error) {
	if err := requireUser(hierarchy.LevelGlobal, "", userID); err != nil {
		return nil, err
	}
	id := hierarchy.GlobalID(userID)
	now := time.Now().UTC()
	seed := &hierarchy.Record{
		Ref:       hierarchy.Ref{Level: hierarchy.LevelGlobal, ID: id},
		OwnerID:   userID,
		Data:      hierarchy.NewData(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	rec, created, err := r.adapter.CreateIfAbsent(callCtx, seed)
	cancel()
	if err != nil {
		return nil, hierarchy.WrapBackend(hierarchy.LevelGlobal, id, err)
	}
	if err := r.checkOwner(rec, userID); err != nil {
		// Only reachable if the id derivation ever collided across users.
		return nil, err
	}
	if created {
		r.emit(Event{Op: OpUpsert, Ref: rec.Ref, UserID: userID})
	}
	return rec, nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

// getForWrite reads the current row for a read-modify-write cycle, mapping
// absence to nil instead of an error. No retry: the enclosing CAS loop
// already re-reads, and write paths must not hide backend trouble.
func (r *Repository) getForWrite(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	rec, err := r.adapter.Get(callCtx, level, id)
	cancel()

	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		return nil, hierarchy.WrapBackend(level, id, err)
	}
}

// checkOwner enforces per-user isolation. Mismatches are logged as potential
// security events.
func (r *Repository) checkOwner(rec *hierarchy.Record, userID string) error {
	if rec.OwnerID != userID {
		r.log.Warn("ownership violation rejected",
			"level", rec.Ref.Level, "id", rec.Ref.ID, "caller", userID)
		return hierarchy.NewError(hierarchy.KindAccessDenied, rec.Ref.Level, rec.Ref.ID,
			"record belongs to a different user")
	}
	return nil
}

// chainParent validates and normalizes the chain link for a record at level.
func (r *Repository) chainParent(level hierarchy.Level, userID string, parent hierarchy.Ref) (hierarchy.Ref, error) {
	parentLevel, ok := level.Parent()
	if !ok {
		return hierarchy.Ref{}, nil // GLOBAL has no parent
	}
	if level == hierarchy.LevelProject {
		// Projects always hang off the caller's GLOBAL record.
		return hierarchy.GlobalRef(userID), nil
	}
	if parent.IsZero() {
		return hierarchy.Ref{}, nil // link established later, resolver degrades gracefully
	}
	if parent.Level != parentLevel {
		return hierarchy.Ref{}, fmt.Errorf("repo: parent of a %s must be a %s, got %s", level, parentLevel, parent.Level)
	}
	return parent, nil
}

// applyPatch merges patch into data: nil values delete, others set.
func applyPatch(data *hierarchy.Data, patch *hierarchy.Data) {
	if patch == nil {
		return
	}
	for pair := patch.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			data.Delete(pair.Key)
			continue
		}
		data.Set(pair.Key, pair.Value)
	}
}
