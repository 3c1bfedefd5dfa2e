// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Error definitions for zero-tolerance error handling
var (
	ErrStoreNotInitialized = errors.New("database not initialized")
	ErrUnknownDriver       = errors.New("unknown database driver")
	ErrNotFound            = errors.New("record not found")
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Driver   string // "postgres" or "sqlite"
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
	// DSN overrides the fields above when set. For sqlite it is the file
	// path or ":memory:".
	DSN string
}

func (c DBConfig) dataSource() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Store persists the vault's event journal, settlement and deployment
// records, parameter versions and the keeper cycle counter.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the database connection pool and verifies it.
func Open(cfg DBConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, cfg.dataSource())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps ":memory:" databases shared and
		// serialises writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("driver", driver).Msg("Successfully connected to the database")
	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	log.Info().Msg("Closing database connection...")
	if err := s.db.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	}
}

// Driver returns the database driver name.
func (s *Store) Driver() string { return s.driver }

// rebind turns '?' placeholders into the driver's native form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	return nil
}

func (s *Store) idColumn() string {
	if s.driver == DriverSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// tables lists every table the store owns, children first.
var tables = []string{
	"vault_events",
	"settlements",
	"deployments",
	"vault_parameters",
	"cycle_counter",
}

func (s *Store) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS vault_events (
			event_id    VARCHAR(36) PRIMARY KEY,
			kind        VARCHAR(50) NOT NULL,
			epoch       BIGINT NOT NULL,
			occurred_at BIGINT NOT NULL,
			account     TEXT NOT NULL DEFAULT '',
			receiver    TEXT NOT NULL DEFAULT '',
			target      TEXT NOT NULL DEFAULT '',
			request_id  BIGINT NOT NULL DEFAULT 0,
			assets      TEXT NOT NULL DEFAULT '0',
			shares      TEXT NOT NULL DEFAULT '0',
			fee         TEXT NOT NULL DEFAULT '0',
			message     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_events_occurred ON vault_events(occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_events_kind ON vault_events(kind)`,

		`CREATE TABLE IF NOT EXISTS settlements (
			epoch                BIGINT PRIMARY KEY,
			settled_at           BIGINT NOT NULL,
			supply_before        TEXT NOT NULL,
			value_before         TEXT NOT NULL,
			deposit_assets       TEXT NOT NULL,
			shares_minted        TEXT NOT NULL,
			withdraw_assets_paid TEXT NOT NULL,
			withdrawals_paid     INTEGER NOT NULL,
			withdraw_fees        TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS deployments (
			deployment_id ` + s.idColumn() + `,
			executed_at   BIGINT NOT NULL,
			from_idle     TEXT NOT NULL,
			to_locked     TEXT NOT NULL,
			skipped       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_executed ON deployments(executed_at DESC)`,

		`CREATE TABLE IF NOT EXISTS vault_parameters (
			params_id   ` + s.idColumn() + `,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			version     INTEGER NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  BIGINT NOT NULL,
			params      TEXT NOT NULL,
			CONSTRAINT uq_vault_parameters_config_version UNIQUE (config_name, version)
		)`,

		// Cycle counter table for persistent keeper cycle tracking
		`CREATE TABLE IF NOT EXISTS cycle_counter (
			id            INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at    BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT single_row_check CHECK (id = 1)
		)`,
		`INSERT INTO cycle_counter (id, current_cycle, updated_at) VALUES (1, 0, 0) ON CONFLICT (id) DO NOTHING`,
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema DDL: %w", err)
		}
	}
	log.Info().Msg("Database schema ensured")
	return nil
}

// ResetSchema drops every table the store owns and recreates the schema.
func (s *Store) ResetSchema(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	log.Warn().Strs("tables", tables).Msg("Dropped all tables")
	return s.EnsureSchema(ctx)
}

// Ping tests if the database connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
