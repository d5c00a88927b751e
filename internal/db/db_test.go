package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/logging"
)

func TestOpenCreatesSchema(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "luna.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = database.Close() }()

	tables := []string{
		"schema_version",
		"action_log",
		"navigation_memory",
		"path_memory",
	}

	for _, table := range tables {
		if !tableExists(t, database.SQL(), table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	if !columnExists(t, database.SQL(), "action_log", "correlation_id") {
		t.Fatalf("expected action_log.correlation_id column to exist")
	}
}

func TestOpenIdempotent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "luna.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	database, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = database.Close() }()

	var count int
	row := database.SQL().QueryRow(`SELECT COUNT(*) FROM schema_version`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan schema_version count: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d schema_version rows, got %d", len(migrations), count)
	}
}

func TestMigrationVersioning(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	orig := make([]Migration, len(migrations))
	copy(orig, migrations)
	defer func() {
		migrations = orig
	}()

	dbPath := filepath.Join(t.TempDir(), "luna.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	nextVersion := len(migrations) + 1
	migrations = append(migrations, Migration{
		Version:     nextVersion,
		Description: "add test table",
		SQL:         `CREATE TABLE migration_test (id INTEGER);`,
	})

	database, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = database.Close() }()

	version, err := CurrentVersion(database.SQL())
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != nextVersion {
		t.Fatalf("expected version %d, got %d", nextVersion, version)
	}

	if !tableExists(t, database.SQL(), "migration_test") {
		t.Fatalf("expected migration_test table to exist")
	}
}

func TestCurrentVersionFresh(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "luna.db")

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		t.Fatalf("create schema_version: %v", err)
	}

	version, err := CurrentVersion(sqlDB)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0, got %d", version)
	}
}

func TestOpenInMemory(t *testing.T) {
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	defer func() { _ = database.Close() }()

	if !tableExists(t, database.SQL(), "action_log") {
		t.Fatal("expected action_log in in-memory db")
	}
	if database.Path() != ":memory:" {
		t.Errorf("Path() = %q", database.Path())
	}
}

func TestStats(t *testing.T) {
	database, err := Open(MemoryPath, WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = database.Close() }()

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if _, err := database.SQL().Exec(
		`INSERT INTO navigation_memory (destination, created_at) VALUES (?, ?), (?, ?)`,
		"toilet", now, "elevator", now); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s, err := database.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.SchemaVersion != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", s.SchemaVersion, len(migrations))
	}
	if s.Path != MemoryPath {
		t.Errorf("Path = %q", s.Path)
	}
	if len(s.Rows) != len(Tables) {
		t.Errorf("Rows = %v, want every table", s.Rows)
	}
	if s.Rows["navigation_memory"] != 2 || s.Rows["action_log"] != 0 {
		t.Errorf("Rows = %v", s.Rows)
	}
}

func TestBusyTimeoutOption(t *testing.T) {
	tests := []struct {
		opt  Option
		want int64
	}{
		{WithBusyTimeout(1500 * time.Millisecond), 1500},
		{WithBusyTimeout(0), DefaultBusyTimeout.Milliseconds()},
	}
	for _, tt := range tests {
		database, err := Open(MemoryPath, WithLogger(logging.Nop()), tt.opt)
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		var got int64
		if err := database.SQL().QueryRow(`PRAGMA busy_timeout`).Scan(&got); err != nil {
			t.Fatalf("read busy_timeout: %v", err)
		}
		_ = database.Close()
		if got != tt.want {
			t.Errorf("busy_timeout = %d, want %d", got, tt.want)
		}
	}
}

func TestOpenDirPermissions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "luna.db")

	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	defer func() { _ = database.Close() }()

	info, err := os.Stat(filepath.Dir(dbPath))
	if err != nil {
		t.Fatalf("stat db dir: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0700 {
		t.Errorf("db dir mode = %o, want 700", mode)
	}
}

func TestDefaultPathUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got := DefaultPath(); got != filepath.Join(home, ".local", "share", "luna", "luna.db") {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()

	row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name)
	var got string
	if err := row.Scan(&got); err != nil {
		if err == sql.ErrNoRows {
			return false
		}
		t.Fatalf("query sqlite_master: %v", err)
	}
	return got == name
}

func columnExists(t *testing.T, db *sql.DB, table, column string) bool {
	t.Helper()

	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		t.Fatalf("query table_info(%s): %v", table, err)
	}
	defer func() { _ = rows.Close() }()

	var (
		cid      int
		name     string
		colType  string
		notNull  int
		defaultV sql.NullString
		primaryK int
	)
	for rows.Next() {
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryK); err != nil {
			t.Fatalf("scan table_info(%s): %v", table, err)
		}
		if name == column {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows table_info(%s): %v", table, err)
	}
	return false
}
