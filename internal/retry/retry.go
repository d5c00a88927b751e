// Package retry holds collaborator calls that failed so they can be tried
// again later, on a schedule or when the user next interacts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lunabadge/luna/internal/logging"
)

// Defaults for retry configuration.
const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 60 * time.Second
)

// Item types used by the orchestrator.
const (
	TypeTTS        = "tts"
	TypeMemory     = "memory"
	TypeNavigation = "navigation"
)

// Status is an item's retry status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "success"
	StatusFailed    Status = "failed"
)

// ErrNoCallback is recorded on attempts for a type with no callback.
var ErrNoCallback = errors.New("no retry callback registered")

// Item is one queued retry.
type Item struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Payload     any               `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAttempt time.Time         `json:"last_attempt,omitzero"`
	NextAttempt time.Time         `json:"next_attempt"`
}

// Callback retries item. A nil error marks it succeeded.
type Callback func(ctx context.Context, item Item) error

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultConfig returns default retry configuration.
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}
}

// Queue is a concurrency-safe retry queue.
type Queue struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	items     []*Item
	callbacks map[string]Callback
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates an empty queue.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	q := &Queue{
		cfg:       cfg,
		now:       time.Now,
		callbacks: make(map[string]Callback),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.Component("retry")
	}
	return q
}

// Register sets the callback for itemType, replacing any previous one.
func (q *Queue) Register(itemType string, cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks[itemType] = cb
	q.logger.DebugCtx("retry callback registered", map[string]any{"type": itemType})
}

// AddOption configures an added item.
type AddOption func(*Item)

// WithMaxAttempts overrides the queue default for one item.
func WithMaxAttempts(n int) AddOption {
	return func(it *Item) {
		if n > 0 {
			it.MaxAttempts = n
		}
	}
}

// WithMetadata attaches string metadata.
func WithMetadata(md map[string]string) AddOption {
	return func(it *Item) {
		it.Metadata = md
	}
}

// Add queues payload for a first retry one interval from now and returns
// the item id.
func (q *Queue) Add(itemType string, payload any, opts ...AddOption) string {
	now := q.now()
	it := &Item{
		ID:          uuid.NewString(),
		Type:        itemType,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
		CreatedAt:   now,
		NextAttempt: now.Add(q.cfg.Interval),
	}
	for _, opt := range opts {
		opt(it)
	}

	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()

	q.logger.InfoCtx("retry item added", map[string]any{"id": it.ID, "type": itemType})
	return it.ID
}

// ProcessPending attempts every pending item that is due and returns the
// ids that succeeded. Items that exhaust their attempts become failed;
// others are rescheduled one interval later.
func (q *Queue) ProcessPending(ctx context.Context) []string {
	now := q.now()

	q.mu.Lock()
	var due []*Item
	for _, it := range q.items {
		if it.Status == StatusPending && !it.NextAttempt.After(now) {
			it.Status = StatusRetrying
			it.Attempts++
			it.LastAttempt = now
			due = append(due, it)
		}
	}
	q.mu.Unlock()

	var succeeded []string
	for _, it := range due {
		if ctx.Err() != nil {
			q.requeue(it, ctx.Err())
			continue
		}
		err := q.attempt(ctx, it)
		if err == nil {
			q.mu.Lock()
			it.Status = StatusSucceeded
			it.LastError = ""
			q.mu.Unlock()
			q.logger.InfoCtx("retry succeeded", map[string]any{"id": it.ID, "type": it.Type, "attempts": it.Attempts})
			succeeded = append(succeeded, it.ID)
			continue
		}
		q.requeue(it, err)
	}
	return succeeded
}

// RetryAll makes every pending item due immediately, then processes them.
// Used when the user wakes the device.
func (q *Queue) RetryAll(ctx context.Context) []string {
	now := q.now()
	q.mu.Lock()
	for _, it := range q.items {
		if it.Status == StatusPending {
			it.NextAttempt = now
		}
	}
	q.mu.Unlock()
	return q.ProcessPending(ctx)
}

func (q *Queue) attempt(ctx context.Context, it *Item) (err error) {
	q.mu.Lock()
	cb, ok := q.callbacks[it.Type]
	snapshot := *it
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w for %q", ErrNoCallback, it.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retry callback panic: %v", r)
		}
	}()
	return cb(ctx, snapshot)
}

func (q *Queue) requeue(it *Item, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it.LastError = cause.Error()
	if it.Attempts >= it.MaxAttempts {
		it.Status = StatusFailed
		q.logger.ErrorCtx("retry attempts exhausted", map[string]any{
			"id":       it.ID,
			"type":     it.Type,
			"attempts": it.Attempts,
			"error":    it.LastError,
		})
		return
	}
	it.Status = StatusPending
	it.NextAttempt = q.now().Add(q.cfg.Interval)
	q.logger.WarnCtx("retry attempt failed", map[string]any{
		"id":       it.ID,
		"type":     it.Type,
		"attempts": it.Attempts,
		"error":    it.LastError,
	})
}

// Summary counts items by status and type.
type Summary struct {
	Total    int            `json:"total_items"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
	Pending  []Item         `json:"pending_items"`
}

// Status summarizes the queue.
func (q *Queue) Status() Summary {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Summary{
		Total:    len(q.items),
		ByStatus: make(map[Status]int),
		ByType:   make(map[string]int),
	}
	for _, it := range q.items {
		s.ByStatus[it.Status]++
		s.ByType[it.Type]++
		if it.Status == StatusPending {
			s.Pending = append(s.Pending, *it)
		}
	}
	return s
}

// Pending returns pending items, optionally restricted to itemType.
func (q *Queue) Pending(itemType string) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item
	for _, it := range q.items {
		if it.Status != StatusPending {
			continue
		}
		if itemType != "" && it.Type != itemType {
			continue
		}
		out = append(out, *it)
	}
	return out
}

// Get returns a copy of the item with id.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.ID == id {
			return *it, true
		}
	}
	return Item{}, false
}

// Remove deletes the item with id.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it *Item) bool { return it.ID == id })
	return len(q.items) < before
}

// ClearCompleted drops succeeded and failed items and returns how many were
// removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it *Item) bool {
		return it.Status == StatusSucceeded || it.Status == StatusFailed
	})
	return before - len(q.items)
}

// ClearSucceeded drops succeeded items and returns how many were removed.
// Failed items stay visible in Status until ClearFailed.
func (q *Queue) ClearSucceeded() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it *Item) bool {
		return it.Status == StatusSucceeded
	})
	return before - len(q.items)
}

// ClearFailed drops failed items whose last attempt is before cutoff and
// returns how many were removed.
func (q *Queue) ClearFailed(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(it *Item) bool {
		return it.Status == StatusFailed && it.LastAttempt.Before(cutoff)
	})
	return before - len(q.items)
}

// Len returns the number of items of any status.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
