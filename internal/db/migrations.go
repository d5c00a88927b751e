package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lunabadge/luna/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: action_log",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add navigation_memory and path_memory tables",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add correlation_id column to action_log",
		SQL:         migration003SQL,
	},
}

const migration001SQL = `
CREATE TABLE action_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL,
    action      TEXT NOT NULL,
    intent      TEXT NOT NULL DEFAULT '',
    text        TEXT NOT NULL DEFAULT '',
    data        TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX idx_action_log_time ON action_log(timestamp DESC);
CREATE INDEX idx_action_log_action ON action_log(action);
`

const migration002SQL = `
CREATE TABLE navigation_memory (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    destination TEXT NOT NULL,
    distance    REAL NOT NULL DEFAULT 0,
    direction   TEXT NOT NULL DEFAULT '',
    nodes       TEXT NOT NULL DEFAULT '[]',
    created_at  DATETIME NOT NULL
);

CREATE INDEX idx_navigation_memory_destination ON navigation_memory(destination, created_at DESC);

CREATE TABLE path_memory (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    scenes      TEXT NOT NULL,
    scene_count INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
);
`

const migration003SQL = `
ALTER TABLE action_log ADD COLUMN correlation_id TEXT NOT NULL DEFAULT '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	logger := logging.Component("db")
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		logger.DebugCtx("applied migration", map[string]any{"version": migration.Version, "description": migration.Description})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
