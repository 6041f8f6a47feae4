// Package postgres is the shared-database storage backend, for deployments
// where many agent processes serve the same user population.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.BackendConfig) (store.Adapter, error) {
		return New(ctx, cfg.Postgres)
	})
}

// Store persists context records in PostgreSQL via a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database, verifies the connection, and ensures the
// schema exists.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS context_records (
			level         TEXT        NOT NULL,
			id            TEXT        NOT NULL,
			owner_user_id TEXT        NOT NULL,
			parent_level  TEXT        NOT NULL DEFAULT '',
			parent_id     TEXT        NOT NULL DEFAULT '',
			data          JSONB       NOT NULL DEFAULT '{}',
			version       BIGINT      NOT NULL DEFAULT 1,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (level, id)
		);

		CREATE INDEX IF NOT EXISTS idx_ctx_owner  ON context_records (owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_ctx_parent ON context_records (parent_level, parent_id);
	`)
	return err
}

const recordColumns = `level, id, owner_user_id, parent_level, parent_id, data, version, created_at, updated_at`

func (s *Store) Get(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM context_records WHERE level = $1 AND id = $2`,
		string(level), id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", level, id, err)
	}
	return rec, nil
}

func (s *Store) Upsert(ctx context.Context, rec *hierarchy.Record, expectVersion int64) error {
	data, err := marshalData(rec)
	if err != nil {
		return err
	}

	if expectVersion == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO context_records (`+recordColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			string(rec.Ref.Level), rec.Ref.ID, rec.OwnerID,
			string(rec.Parent.Level), rec.Parent.ID,
			data, rec.Version, stamp(rec.CreatedAt), stamp(rec.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrVersionConflict
			}
			return fmt.Errorf("postgres: insert %s: %w", rec.Ref, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE context_records
		 SET owner_user_id = $1, parent_level = $2, parent_id = $3,
		     data = $4, version = $5, updated_at = $6
		 WHERE level = $7 AND id = $8 AND version = $9`,
		rec.OwnerID, string(rec.Parent.Level), rec.Parent.ID,
		data, rec.Version, stamp(rec.UpdatedAt),
		string(rec.Ref.Level), rec.Ref.ID, expectVersion,
	)
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", rec.Ref, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, rec *hierarchy.Record) (*hierarchy.Record, bool, error) {
	data, err := marshalData(rec)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO context_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (level, id) DO NOTHING`,
		string(rec.Ref.Level), rec.Ref.ID, rec.OwnerID,
		string(rec.Parent.Level), rec.Parent.ID,
		data, rec.Version, stamp(rec.CreatedAt), stamp(rec.UpdatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: create %s: %w", rec.Ref, err)
	}

	stored, err := s.Get(ctx, rec.Ref.Level, rec.Ref.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() > 0, nil
}

func (s *Store) Delete(ctx context.Context, level hierarchy.Level, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM context_records WHERE level = $1 AND id = $2`,
		string(level), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", level, id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Kind() string { return "postgres" }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ─── Row mapping ────────────────────────────────────────────────────────────

func scanRecord(row pgx.Row) (*hierarchy.Record, error) {
	var (
		rec                hierarchy.Record
		level, parentLevel string
		data               []byte
	)
	if err := row.Scan(
		&level, &rec.Ref.ID, &rec.OwnerID,
		&parentLevel, &rec.Parent.ID,
		&data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Ref.Level = hierarchy.Level(level)
	rec.Parent.Level = hierarchy.Level(parentLevel)

	rec.Data = hierarchy.NewData()
	if err := json.Unmarshal(data, rec.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &rec, nil
}

func marshalData(rec *hierarchy.Record) ([]byte, error) {
	d := rec.Data
	if d == nil {
		d = hierarchy.NewData()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode data for %s: %w", rec.Ref, err)
	}
	return raw, nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
