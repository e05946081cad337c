// ABOUTME: Database connection management and initialization
// ABOUTME: Handles opening SQLite database with WAL mode and seeding integration rows
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func OpenDatabase(path string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Configure connection pool for SQLite (avoid database locked errors)
	db.SetMaxOpenConns(1)

	// Initialize schema
	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	// One integration row per provider must exist before anything else runs
	if err := NewIntegrationsRepository(db).EnsureIntegrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
