// Package db opens luna's SQLite store and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lunabadge/luna/internal/logging"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Tables lists the tables luna owns, in migration order.
var Tables = []string{"action_log", "navigation_memory", "path_memory"}

// DB wraps the SQLite connection and path.
type DB struct {
	sql  *sql.DB
	path string
}

// DefaultPath returns the default database path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "luna", "luna.db")
}

type options struct {
	logger      *logging.Logger
	busyTimeout time.Duration
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used to report schema state on open.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBusyTimeout sets the SQLite busy timeout. Values <= 0 keep
// DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// Open opens or creates the database, applies pragmas, and runs migrations.
func Open(dbPath string, opts ...Option) (*DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component("db")
	}

	if dbPath == "" {
		dbPath = DefaultPath()
	}

	resolved := dbPath
	if dbPath != MemoryPath {
		resolved = logging.ExpandPath(dbPath)
		if err := os.MkdirAll(filepath.Dir(resolved), 0700); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if dbPath == MemoryPath {
		// Each new connection would see an empty database.
		sqlDB.SetMaxOpenConns(1)
	}

	fail := func(err error) (*DB, error) {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := sqlDB.Ping(); err != nil {
		return fail(fmt.Errorf("ping db: %w", err))
	}
	if err := applyPragmas(sqlDB, o.busyTimeout); err != nil {
		return fail(err)
	}
	if err := Migrate(sqlDB); err != nil {
		return fail(err)
	}

	version, err := CurrentVersion(sqlDB)
	if err != nil {
		return fail(err)
	}
	o.logger.InfoCtx("database opened", map[string]any{
		"path":           resolved,
		"schema_version": version,
	})

	return &DB{sql: sqlDB, path: resolved}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SQL returns the raw *sql.DB for the stores built on it.
func (d *DB) SQL() *sql.DB {
	if d == nil {
		return nil
	}
	return d.sql
}

// Path returns the resolved database path.
func (d *DB) Path() string {
	return d.path
}

// Stats describes the stored data.
type Stats struct {
	Path          string           `json:"path"`
	SchemaVersion int              `json:"schema_version"`
	Rows          map[string]int64 `json:"rows"`
}

// Stats counts the rows of every table in Tables.
func (d *DB) Stats(ctx context.Context) (Stats, error) {
	version, err := CurrentVersion(d.sql)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Path: d.path, SchemaVersion: version, Rows: make(map[string]int64, len(Tables))}
	for _, table := range Tables {
		var n int64
		// Table names come from the fixed Tables list.
		if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
		s.Rows[table] = n
	}
	return s, nil
}

func applyPragmas(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return nil
}
