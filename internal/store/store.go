package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/procflow/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial audit log schema
const currentSchemaVersion = 1

// Store is the SQLite-backed audit log store.
//
// Every operation runs in exactly one unit of work. An unbound Store starts
// and commits a local transaction per operation; a Store returned by Join
// runs inside the caller's transaction and never commits it.
type Store struct {
	db      *sql.DB
	cfg     Config
	logger  *slog.Logger
	ambient *Tx
}

// Option configures a Store.
type Option func(*Store)

// WithConfig sets the unit-of-work configuration.
func WithConfig(cfg Config) Option {
	return func(s *Store) {
		s.cfg = cfg
	}
}

// WithSharedUnitOfWork enables the shared persistence context mode.
func WithSharedUnitOfWork(shared bool) Option {
	return func(s *Store) {
		s.cfg.SharedUnitOfWork = shared
	}
}

// WithTransactionManager delegates begin/commit/rollback to m.
func WithTransactionManager(m TransactionManager) Option {
	return func(s *Store) {
		s.cfg.TransactionManager = m
	}
}

// WithLogger sets the logger used for unit-of-work diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, so units of work serialize
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database. Closing a joined view is a no-op; the
// owning Store closes the database.
func (s *Store) Close() error {
	if s.db == nil || s.ambient != nil {
		return nil
	}
	return s.db.Close()
}

// Config returns the unit-of-work configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	if err := s.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
