// Package testing provides database helpers and fixtures shared by folio tests.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/aristath/folio/internal/database"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a file-backed database in the temp dir and applies the schema
// registered for name (database.NameFolio or database.NameCache).
// The returned cleanup closes the connection and removes the file.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}

// NewMemoryDB opens an in-memory mattn/go-sqlite3 database with the named schema
// applied. The pool is pinned to one connection because every :memory:
// connection is a separate database.
func NewMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema, err := LoadSchema(name)
	if err != nil {
		_ = db.Close()
		t.Fatalf("Failed to load schema %s: %v", name, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to apply schema %s: %v", name, err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

// LoadSchema returns the SQL of the schema registered for a database name
func LoadSchema(name string) (string, error) {
	path, err := database.SchemaPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return string(content), nil
}
