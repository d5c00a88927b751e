// Package memory stores remembered paths and past navigations in SQLite.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lunabadge/luna/internal/db"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/orchestrator"
)

// Navigation is one stored navigation.
type Navigation struct {
	ID          int64     `json:"id"`
	Destination string    `json:"destination"`
	Distance    float64   `json:"distance"`
	Direction   string    `json:"direction"`
	Nodes       []string  `json:"nodes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PathMemory is one remembered path, as the scenes seen along it.
type PathMemory struct {
	ID        int64                `json:"id"`
	Scenes    []orchestrator.Scene `json:"scenes"`
	CreatedAt time.Time            `json:"created_at"`
}

// Store implements orchestrator.MemoryManager.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

var _ orchestrator.MemoryManager = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns a store backed by database.
func New(database *db.DB, opts ...Option) (*Store, error) {
	if database == nil || database.SQL() == nil {
		return nil, errors.New("memory: db is nil")
	}
	s := &Store{db: database.SQL(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("memory")
	}
	return s, nil
}

// SavePathMemory stores scenes as one remembered path. An empty scene list
// is stored too; it marks that the user asked to remember a path.
func (s *Store) SavePathMemory(ctx context.Context, scenes []orchestrator.Scene) error {
	if scenes == nil {
		scenes = []orchestrator.Scene{}
	}
	data, err := json.Marshal(scenes)
	if err != nil {
		return fmt.Errorf("encoding scenes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO path_memory (scenes, scene_count, created_at) VALUES (?, ?, ?)`,
		string(data), len(scenes), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving path memory: %w", err)
	}
	s.logger.InfoCtx("path memory saved", map[string]any{"scenes": len(scenes)})
	return nil
}

// SaveNavigationMemory stores a navigation to destination along path.
func (s *Store) SaveNavigationMemory(ctx context.Context, path *orchestrator.Path, destination string) error {
	if path == nil {
		return errors.New("memory: path is nil")
	}
	if destination == "" {
		destination = path.Destination
	}
	if destination == "" {
		return errors.New("memory: destination is empty")
	}
	nodes := path.Nodes
	if nodes == nil {
		nodes = []string{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("encoding route: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO navigation_memory (destination, distance, direction, nodes, created_at) VALUES (?, ?, ?, ?, ?)`,
		destination, path.Distance, path.Direction, string(data), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving navigation memory: %w", err)
	}
	s.logger.InfoCtx("navigation memory saved", map[string]any{"destination": destination, "distance": path.Distance})
	return nil
}

// RecentNavigations returns up to n navigations, newest first.
func (s *Store) RecentNavigations(ctx context.Context, n int) ([]Navigation, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, destination, distance, direction, nodes, created_at
		 FROM navigation_memory ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying navigations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Navigation
	for rows.Next() {
		var (
			nav   Navigation
			nodes string
		)
		if err := rows.Scan(&nav.ID, &nav.Destination, &nav.Distance, &nav.Direction, &nodes, &nav.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning navigation: %w", err)
		}
		if err := json.Unmarshal([]byte(nodes), &nav.Nodes); err != nil {
			return nil, fmt.Errorf("decoding navigation %d route: %w", nav.ID, err)
		}
		out = append(out, nav)
	}
	return out, rows.Err()
}

// LastNavigation returns the newest navigation to destination.
func (s *Store) LastNavigation(ctx context.Context, destination string) (Navigation, bool, error) {
	var (
		nav   Navigation
		nodes string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, destination, distance, direction, nodes, created_at
		 FROM navigation_memory WHERE destination = ? ORDER BY created_at DESC, id DESC LIMIT 1`, destination,
	).Scan(&nav.ID, &nav.Destination, &nav.Distance, &nav.Direction, &nodes, &nav.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Navigation{}, false, nil
	}
	if err != nil {
		return Navigation{}, false, fmt.Errorf("querying navigation: %w", err)
	}
	if err := json.Unmarshal([]byte(nodes), &nav.Nodes); err != nil {
		return Navigation{}, false, fmt.Errorf("decoding navigation %d route: %w", nav.ID, err)
	}
	return nav, true, nil
}

// PathMemories returns up to n remembered paths, newest first.
func (s *Store) PathMemories(ctx context.Context, n int) ([]PathMemory, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenes, created_at FROM path_memory ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying path memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PathMemory
	for rows.Next() {
		var (
			pm     PathMemory
			scenes string
		)
		if err := rows.Scan(&pm.ID, &scenes, &pm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning path memory: %w", err)
		}
		if err := json.Unmarshal([]byte(scenes), &pm.Scenes); err != nil {
			return nil, fmt.Errorf("decoding path memory %d: %w", pm.ID, err)
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}
