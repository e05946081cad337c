// ABOUTME: Tests for opening the sqlite database and applying the schema
// ABOUTME: Shared setupTestDB helper backs the repository tests in this package
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/harperreed/crmsync/models"
	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test db: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	database.SetMaxOpenConns(1)

	if err := InitSchema(database); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return database
}

func TestOpenDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := OpenDatabase(dbPath)
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	defer db.Close()

	// Verify database file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// Verify WAL mode
	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected WAL mode, got %s", mode)
	}

	// Verify integration rows were seeded
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM integrations").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count integrations: %v", err)
	}
	if count != len(models.Providers) {
		t.Errorf("Expected %d integrations, got %d", len(models.Providers), count)
	}
}

func TestOpenDatabaseInvalidPath(t *testing.T) {
	dbPath := "/invalid/nonexistent/path/that/cannot/be/created/test.db"

	_, err := OpenDatabase(dbPath)
	if err == nil {
		t.Errorf("Expected error for invalid path, but OpenDatabase succeeded")
	}
}

func TestOpenDatabaseReopenKeepsIntegrations(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := OpenDatabase(dbPath)
	if err != nil {
		t.Fatalf("Initial OpenDatabase failed: %v", err)
	}
	var firstID string
	if err := db.QueryRow("SELECT id FROM integrations WHERE provider = 'salesforce'").Scan(&firstID); err != nil {
		t.Fatalf("Failed to read integration: %v", err)
	}
	db.Close()

	// Seeding must be idempotent: same row, same id
	db, err = OpenDatabase(dbPath)
	if err != nil {
		t.Fatalf("OpenDatabase should handle re-initialization gracefully, but got error: %v", err)
	}
	defer db.Close()

	var secondID string
	if err := db.QueryRow("SELECT id FROM integrations WHERE provider = 'salesforce'").Scan(&secondID); err != nil {
		t.Fatalf("Failed to read integration: %v", err)
	}
	if firstID != secondID {
		t.Errorf("Expected integration id to survive reopen, got %s then %s", firstID, secondID)
	}
}
