package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

const (
	// CurrentSchemaVersion is the version of the database schema
	CurrentSchemaVersion = 1
)

// DB manages the SQLite database connection and schema migrations
type DB struct {
	sqlDB *sql.DB
	path  string
}

// Open opens or creates a database at the given path
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		sqlDB: sqlDB,
		path:  path,
	}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// SQLDB returns the underlying *sql.DB for direct queries
func (db *DB) SQLDB() *sql.DB {
	return db.sqlDB
}

// migrate runs schema migrations
func (db *DB) migrate() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version >= CurrentSchemaVersion {
		return nil
	}

	tx, err := db.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version == 0 {
		schema, err := schemaFS.ReadFile("schema.sql")
		if err != nil {
			return fmt.Errorf("failed to read schema: %w", err)
		}

		if _, err := tx.Exec(string(schema)); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			CurrentSchemaVersion,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	} else {
		return fmt.Errorf("incremental migrations not yet implemented (current version: %d, target: %d)", version, CurrentSchemaVersion)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var version int

	var exists int
	if err := db.sqlDB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if exists == 0 {
		return 0, nil
	}

	if err := db.sqlDB.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}

	return version, nil
}

// BeginTx starts a new transaction
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.sqlDB.Begin()
}
