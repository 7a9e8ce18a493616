// Package db provides a centralized database connection and schema for hadash.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL"
	}
	return open(dsn, 0)
}

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	// Each connection to an in-memory database sees its own copy, so the
	// pool is pinned to a single connection.
	return open("file::memory:?mode=memory", 1)
}

func open(dsn string, maxConns int) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Entity history - append-only state log per entity
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			state TEXT NOT NULL,
			batch_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_entity_ts ON entity_history(entity_id, ts_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_history table: %w", err)
	}

	// Entity versions - bumped once per appended batch, used to find stale graphs
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_version (
			entity_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_version table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
