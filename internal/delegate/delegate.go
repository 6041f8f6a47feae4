// Package delegate applies validated upward writes: promoting data from a
// descendant context level to one of its strict ancestors.
package delegate

import (
	"context"
	"log/slog"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/repo"
)

// Service validates delegation requests and writes through the repository,
// so cache invalidation for the target and its descendants happens exactly
// like any other write.
type Service struct {
	repo             *repo.Repository
	respectOverrides bool
	log              *slog.Logger
}

// New creates the delegation service. cfg selects the conflict policy:
// last-write-wins by default, or skip keys explicitly set at a level between
// source and target when RespectOverrides is on.
func New(r *repo.Repository, cfg config.DelegationConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:             r,
		respectOverrides: cfg.RespectOverrides,
		log:              log.With("component", "delegate"),
	}
}

// Delegate promotes payload from source to target. Target must be a strict
// ancestor of source in the caller's own chain; nothing is mutated before
// the ancestry proof succeeds.
func (s *Service) Delegate(ctx context.Context, source, target hierarchy.Ref, payload *hierarchy.Data, userID string) (*hierarchy.Record, error) {
	if userID == "" {
		return nil, hierarchy.NewError(hierarchy.KindAuthenticationRequired, source.Level, source.ID, "no verified user identity")
	}
	if target.Level == hierarchy.LevelGlobal && target.ID == "" {
		target.ID = hierarchy.GlobalID(userID)
	}
	if !source.Level.Valid() || !target.Level.Valid() {
		return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, source.Level, source.ID, "unknown level")
	}
	if !target.Level.Above(source.Level) {
		return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, target.Level, target.ID,
			"target level must be a strict ancestor of the source level")
	}

	intermediates, err := s.proveAncestry(ctx, source, target, userID)
	if err != nil {
		return nil, err
	}

	patch := payload
	if s.respectOverrides {
		patch = filterOverridden(payload, intermediates)
	}

	rec, err := s.repo.Upsert(ctx, target.Level, target.ID, userID, repo.UpsertParams{Patch: patch})
	if err != nil {
		return nil, err
	}
	s.log.Info("delegation applied",
		"source", source.String(), "target", target.String(), "user", userID, "version", rec.Version)
	return rec, nil
}

// proveAncestry walks source's parent_ref chain and returns the records
// strictly between source and target. Failing to reach target — including a
// dangling link, which makes ancestry unprovable — is InvalidDelegation.
func (s *Service) proveAncestry(ctx context.Context, source, target hierarchy.Ref, userID string) ([]*hierarchy.Record, error) {
	srcRec, err := s.repo.Get(ctx, source.Level, source.ID, userID)
	if err != nil {
		// A source in another user's chain is a delegation across users,
		// not a plain ownership violation.
		if hierarchy.IsAccessDenied(err) {
			return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, source.Level, source.ID,
				"source record belongs to a different user")
		}
		return nil, err
	}

	globalRef := hierarchy.GlobalRef(userID)
	var between []*hierarchy.Record

	cur := srcRec.Parent
	if source.Level == hierarchy.LevelProject {
		cur = globalRef
	}
	for hops := 0; hops < len(hierarchy.Levels); hops++ {
		if cur == target {
			return between, nil
		}
		if cur.IsZero() {
			break
		}
		if cur == globalRef {
			// Walked past every explicit link without meeting the target.
			break
		}
		rec, err := s.repo.Get(ctx, cur.Level, cur.ID, userID)
		if err != nil {
			if hierarchy.IsNotFound(err) {
				return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, target.Level, target.ID,
					"ancestry unprovable: chain link "+cur.String()+" does not exist")
			}
			if hierarchy.IsAccessDenied(err) {
				return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, target.Level, target.ID,
					"ancestry unprovable: chain link "+cur.String()+" belongs to a different user")
			}
			return nil, err
		}
		between = append(between, rec)
		cur = rec.Parent
		if rec.Ref.Level == hierarchy.LevelProject {
			cur = globalRef
		}
	}
	return nil, hierarchy.NewError(hierarchy.KindInvalidDelegation, target.Level, target.ID,
		"target is not an ancestor of "+source.String())
}

// filterOverridden drops payload keys that an intermediate level has
// explicitly set, with or without the list-replace marker.
func filterOverridden(payload *hierarchy.Data, intermediates []*hierarchy.Record) *hierarchy.Data {
	if payload == nil {
		return nil
	}
	filtered := hierarchy.NewData()
	for pair := payload.Oldest(); pair != nil; pair = pair.Next() {
		overridden := false
		for _, rec := range intermediates {
			if rec.Data == nil {
				continue
			}
			if _, ok := rec.Data.Get(pair.Key); ok {
				overridden = true
				break
			}
			if _, ok := rec.Data.Get(pair.Key + hierarchy.ReplaceSuffix); ok {
				overridden = true
				break
			}
		}
		if !overridden {
			filtered.Set(pair.Key, pair.Value)
		}
	}
	return filtered
}
