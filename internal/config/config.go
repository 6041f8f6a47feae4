// Package config loads the process configuration: which storage backend to
// run, per-level cache TTLs, storage timeouts, the delegation conflict policy,
// and the authenticated principal for the stdio transport.
//
// Configuration is read exactly once at startup — from stratum.yaml (working
// directory or ~/.stratum) and STRATUM_-prefixed environment variables — and
// never re-read per request.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the whole process.
type Config struct {
	Backend    BackendConfig    `mapstructure:"backend"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// BackendConfig selects and tunes the storage adapter.
type BackendConfig struct {
	// Kind is one of "sqlite", "postgres", "memory".
	Kind string `mapstructure:"kind"`

	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Timeout bounds every storage call; on expiry the operation fails
	// rather than hang.
	Timeout time.Duration `mapstructure:"timeout"`

	// ReadRetries is the retry budget for idempotent reads after a backend
	// failure. Writes are never retried silently.
	ReadRetries  int           `mapstructure:"read_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SQLiteConfig locates the embedded database.
type SQLiteConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// PostgresConfig carries the pgx pool settings.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CacheConfig holds per-level TTLs for resolved views. GLOBAL is long-lived
// (rarely changes, broad recompute cost); TASK churns and stays short.
type CacheConfig struct {
	GlobalTTL  time.Duration `mapstructure:"global_ttl"`
	ProjectTTL time.Duration `mapstructure:"project_ttl"`
	BranchTTL  time.Duration `mapstructure:"branch_ttl"`
	TaskTTL    time.Duration `mapstructure:"task_ttl"`
}

// DelegationConfig selects the delegation conflict policy.
type DelegationConfig struct {
	// RespectOverrides makes delegation skip payload keys that a level
	// strictly between source and target has explicitly set, instead of the
	// default last-write-wins behavior.
	RespectOverrides bool `mapstructure:"respect_overrides"`
}

// AuthConfig identifies the principal served by the stdio transport. Each
// agent process runs as exactly one verified user; an empty UserID is fatal
// at request time, never defaulted.
type AuthConfig struct {
	UserID string `mapstructure:"user_id"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Backend: BackendConfig{
			Kind:         "sqlite",
			SQLite:       SQLiteConfig{DataDir: filepath.Join(home, ".stratum")},
			Timeout:      5 * time.Second,
			ReadRetries:  2,
			RetryBackoff: 100 * time.Millisecond,
		},
		Cache: CacheConfig{
			GlobalTTL:  15 * time.Minute,
			ProjectTTL: 5 * time.Minute,
			BranchTTL:  2 * time.Minute,
			TaskTTL:    30 * time.Second,
		},
	}
}

// Load reads stratum.yaml and STRATUM_* environment variables on top of the
// defaults. The dot in nested keys maps to an underscore, e.g.
// "backend.kind" becomes STRATUM_BACKEND_KIND.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("stratum")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".stratum"))
	}
	v.SetEnvPrefix("STRATUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindKeys(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults + env carry the load.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read stratum.yaml: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve requests.
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown backend kind %q (want sqlite, postgres, or memory)", c.Backend.Kind)
	}
	if c.Backend.Kind == "postgres" && c.Backend.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres backend requires backend.postgres.dsn")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("config: backend.timeout must be positive")
	}
	if c.Backend.ReadRetries < 0 {
		return fmt.Errorf("config: backend.read_retries must not be negative")
	}
	for name, ttl := range map[string]time.Duration{
		"cache.global_ttl":  c.Cache.GlobalTTL,
		"cache.project_ttl": c.Cache.ProjectTTL,
		"cache.branch_ttl":  c.Cache.BranchTTL,
		"cache.task_ttl":    c.Cache.TaskTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	return nil
}

// bindKeys registers every key with viper so AutomaticEnv resolves it even
// when no config file sets the key.
func bindKeys(v *viper.Viper) {
	for _, key := range []string{
		"backend.kind",
		"backend.sqlite.data_dir",
		"backend.postgres.dsn",
		"backend.timeout",
		"backend.read_retries",
		"backend.retry_backoff",
		"cache.global_ttl",
		"cache.project_ttl",
		"cache.branch_ttl",
		"cache.task_ttl",
		"delegation.respect_overrides",
		"auth.user_id",
	} {
		_ = v.BindEnv(key)
	}
}
