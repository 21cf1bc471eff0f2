package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jbweber/homelab/ipamd/internal/migrations"
	_ "modernc.org/sqlite"
)

// CleanupTestDB removes the test database file. In-memory databases have no
// file, so a missing path is not an error.
func CleanupTestDB(dsn string) error {
	// Extract file path from DSN
	if len(dsn) < 5 || dsn[:5] != "file:" {
		return fmt.Errorf("invalid DSN format")
	}

	path := dsn[5:]
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetupTestDB creates and returns a test database connection.
// The pool is limited to one connection so every test sees a single serialized writer.
func SetupTestDB(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	return openTestDB(t, NewTestDSN(testName), 1)
}

// SetupFileTestDBWithMigrations creates a WAL database file under t.TempDir
// with a pool of conns connections and the full schema applied. Use it when a
// test needs writers on separate connections to contend for the same rows.
func SetupFileTestDBWithMigrations(t *testing.T, conns int) (*sql.DB, func()) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, cleanup := openTestDB(t, dsn, conns)
	migrate(t, db, cleanup)
	return db, cleanup
}

func openTestDB(t *testing.T, dsn string, conns int) (*sql.DB, func()) {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(conns)

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
		if err := CleanupTestDB(dsn); err != nil {
			t.Logf("Warning: failed to clean up test database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestDBWithMigrations creates a test database with the full schema applied
func SetupTestDBWithMigrations(t *testing.T, testName string) (*sql.DB, func()) {
	t.Helper()
	db, cleanup := SetupTestDB(t, testName)
	migrate(t, db, cleanup)
	return db, cleanup
}

func migrate(t *testing.T, db *sql.DB, cleanup func()) {
	t.Helper()
	migrator := migrations.NewMigrator(db)
	for _, migration := range migrations.All() {
		migrator.AddMigration(migration)
	}
	if err := migrator.RunMigrations(); err != nil {
		cleanup()
		t.Fatalf("Failed to run migrations: %v", err)
	}
}
