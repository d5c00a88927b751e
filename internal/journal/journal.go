// Package journal persists the orchestrator's action log to SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lunabadge/luna/internal/db"
)

// Entry is one recorded action.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Action        string         `json:"action_type"`
	Intent        string         `json:"intent,omitempty"`
	Text          string         `json:"text,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Journal reads and writes the action_log table.
type Journal struct {
	db *sql.DB
}

// New returns a journal backed by database.
func New(database *db.DB) (*Journal, error) {
	if database == nil || database.SQL() == nil {
		return nil, errors.New("journal: db is nil")
	}
	return &Journal{db: database.SQL()}, nil
}

// Record appends e. A zero Timestamp is set to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.Action == "" {
		return errors.New("journal: entry has no action")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding action data: %w", err)
	}
	if e.Data == nil {
		data = []byte("{}")
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO action_log (timestamp, action, intent, text, data, correlation_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), e.Action, e.Intent, e.Text, string(data), e.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, action, intent, text, data, correlation_id
		 FROM action_log ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			data string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Intent, &e.Text, &data, &e.CorrelationID); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if data != "" && data != "{}" && data != "null" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("decoding action %d data: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByAction returns how many entries exist per action type.
func (j *Journal) CountByAction(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM action_log GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("counting actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scanning action count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// Prune keeps the newest keep entries and deletes the rest.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM action_log WHERE id NOT IN (
			SELECT id FROM action_log ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning actions: %w", err)
	}
	return res.RowsAffected()
}
