// Package sqlite is the embedded storage backend. It keeps all context
// records in a single-file SQLite database under the configured data
// directory, opened in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
	"github.com/stratum-mcp/stratum/internal/store"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg config.BackendConfig) (store.Adapter, error) {
		return New(ctx, cfg.SQLite)
	})
}

// Store persists context records in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database under cfg.DataDir and runs the schema
// migration.
func New(ctx context.Context, cfg config.SQLiteConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "context.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS context_records (
			level         TEXT    NOT NULL,
			id            TEXT    NOT NULL,
			owner_user_id TEXT    NOT NULL,
			parent_level  TEXT    NOT NULL DEFAULT '',
			parent_id     TEXT    NOT NULL DEFAULT '',
			data          TEXT    NOT NULL DEFAULT '{}',
			version       INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT    NOT NULL,
			updated_at    TEXT    NOT NULL,
			PRIMARY KEY (level, id)
		);

		CREATE INDEX IF NOT EXISTS idx_ctx_owner  ON context_records(owner_user_id);
		CREATE INDEX IF NOT EXISTS idx_ctx_parent ON context_records(parent_level, parent_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const recordColumns = `level, id, owner_user_id, parent_level, parent_id, data, version, created_at, updated_at`

func (s *Store) Get(ctx context.Context, level hierarchy.Level, id string) (*hierarchy.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM context_records WHERE level = ? AND id = ?`,
		string(level), id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", level, id, err)
	}
	return rec, nil
}

func (s *Store) Upsert(ctx context.Context, rec *hierarchy.Record, expectVersion int64) error {
	data, err := marshalData(rec)
	if err != nil {
		return err
	}

	if expectVersion == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO context_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(rec.Ref.Level), rec.Ref.ID, rec.OwnerID,
			string(rec.Parent.Level), rec.Parent.ID,
			data, rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrVersionConflict
			}
			return fmt.Errorf("sqlite: insert %s: %w", rec.Ref, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE context_records
		 SET owner_user_id = ?, parent_level = ?, parent_id = ?, data = ?, version = ?, updated_at = ?
		 WHERE level = ? AND id = ? AND version = ?`,
		rec.OwnerID, string(rec.Parent.Level), rec.Parent.ID,
		data, rec.Version, formatTime(rec.UpdatedAt),
		string(rec.Ref.Level), rec.Ref.ID, expectVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", rec.Ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, rec *hierarchy.Record) (*hierarchy.Record, bool, error) {
	data, err := marshalData(rec)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO context_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Ref.Level), rec.Ref.ID, rec.OwnerID,
		string(rec.Parent.Level), rec.Parent.ID,
		data, rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: create %s: %w", rec.Ref, err)
	}

	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}

	// Read back either the fresh row or the one a concurrent caller won with.
	stored, err := s.Get(ctx, rec.Ref.Level, rec.Ref.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *Store) Delete(ctx context.Context, level hierarchy.Level, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM context_records WHERE level = ? AND id = ?`,
		string(level), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", level, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Kind() string { return "sqlite" }

func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Row mapping ────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*hierarchy.Record, error) {
	var (
		rec                      hierarchy.Record
		level, parentLevel       string
		data, createdAt, updated string
	)
	if err := row.Scan(
		&level, &rec.Ref.ID, &rec.OwnerID,
		&parentLevel, &rec.Parent.ID,
		&data, &rec.Version, &createdAt, &updated,
	); err != nil {
		return nil, err
	}
	rec.Ref.Level = hierarchy.Level(level)
	rec.Parent.Level = hierarchy.Level(parentLevel)

	rec.Data = hierarchy.NewData()
	if err := json.Unmarshal([]byte(data), rec.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalData(rec *hierarchy.Record) (string, error) {
	d := rec.Data
	if d == nil {
		d = hierarchy.NewData()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode data for %s: %w", rec.Ref, err)
	}
	return string(raw), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
