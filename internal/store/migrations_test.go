package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationFilesAreWellFormed(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			t.Errorf("unexpected directory in migrations: %s", entry.Name())
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			t.Errorf("migration %s does not end in .up.sql", entry.Name())
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		t.Fatal("no migration files found")
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("migration files not in lexical order: %v", names)
	}
}

func TestInitialMigrationCreatesAllTables(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(migrationsDir, "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read initial migration: %v", err)
	}
	sql := string(contents)

	tables := []string{
		"users",
		"messages",
		"rooms",
		"room_assignments",
		"absences",
		"tasks",
		"schedules",
		"key_entries",
		"instructions",
		"guide_documents",
		"password_resets",
		"revoked_access_tokens",
	}
	for _, table := range tables {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("initial migration missing table %s", table)
		}
	}
}
