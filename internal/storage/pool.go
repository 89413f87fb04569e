// Package storage implements Mnemosyne's storage backend (spec.md §4.1): a
// pooled SQLite-backed connection shared by the memories, vectors and
// work_items logical schemas, all defined in schema.sql.
package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DefaultPoolSize matches spec.md §5's "default pool size 20".
const DefaultPoolSize = 20

// Store wraps a pooled *sql.DB and implements every operation in spec.md
// §4.1. Each borrowed connection is transaction-local per spec.md §5; the
// standard library's *sql.DB already pools and hands out connections that
// way, so Store does not add its own locking beyond what individual
// operations require.
type Store struct {
	db   *sql.DB
	path string

	// dupPrevention, when true, makes StoreMemory fail with ErrAlreadyExists
	// on a duplicate id instead of upserting — spec.md §4.1's "deliberate
	// duplicate-prevention mode".
	dupPrevention bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDuplicatePrevention enables AlreadyExists-on-duplicate semantics for
// StoreMemory.
func WithDuplicatePrevention() Option {
	return func(s *Store) { s.dupPrevention = true }
}

// WithPoolSize overrides DefaultPoolSize.
func WithPoolSize(n int) Option {
	return func(s *Store) { s.db.SetMaxOpenConns(n) }
}

// Open creates (if necessary) and migrates the SQLite database at path, then
// returns a ready-to-use Store.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage db: %w", err)
	}

	db.SetMaxOpenConns(DefaultPoolSize)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &Store{db: db, path: path}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate storage db: %w", err)
	}

	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES (1)"); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}
	return nil
}

// Close closes the pooled connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error and committing
// otherwise — the same pattern as the teacher's SQLiteMemoryDB.withTx.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) audit(tx *sql.Tx, operation, memoryID, details string) error {
	_, err := tx.Exec(
		`INSERT INTO audit_log (operation, memory_id, details, at) VALUES (?, ?, ?, ?)`,
		operation, nullString(memoryID), details, time.Now(),
	)
	return err
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
