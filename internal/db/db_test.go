package db

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, path
}

func TestNew_CreatesDatabase(t *testing.T) {
	_, path := openTestDB(t)

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestMigrations_Applied(t *testing.T) {
	database, _ := openTestDB(t)

	var count int
	if err := database.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}

	// The records table and archive columns should both exist.
	_, err := database.Conn().Exec(
		`INSERT INTO analysis_records (id, owner_id, source_file_name, display_name, archive_bucket, archive_key, created_at)
		 VALUES ('r1', 'u1', 'clip.mp4', 'clip', NULL, NULL, '2026-01-01T00:00:00Z')`)
	if err != nil {
		t.Errorf("schema incomplete after migrations: %v", err)
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := New(path, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first.Close()

	second, err := New(path, nil)
	if err != nil {
		t.Fatalf("reopening database error = %v", err)
	}
	defer second.Close()

	var count int
	if err := second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations after reopen = %d, want 2", count)
	}
}

func TestNew_WALMode(t *testing.T) {
	database, _ := openTestDB(t)

	var mode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}
