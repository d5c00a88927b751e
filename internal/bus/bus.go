// Package bus implements the in-process priority event bus that lets luna's
// subsystems talk without referencing each other.
//
// Publishers never block: events pass through the global filters and are
// pushed onto a bounded priority queue, or dropped and counted when the
// queue is full. A single consumer goroutine pops events in (priority,
// enqueue sequence) order, records them in a bounded history ring and
// invokes the subscribers for that kind in ascending subscription priority.
// A failing or panicking subscriber is logged and skipped; it never stops
// delivery to the others or the loop itself.
package bus

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lunabadge/luna/internal/logging"
)

// Defaults for bus configuration.
const (
	DefaultQueueSize    = 1000
	DefaultHistorySize  = 100
	DefaultPollInterval = time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// Handler receives a dispatched event. ctx is cancelled when the bus stops.
type Handler func(ctx context.Context, e Event) error

// Filter decides whether an event may be queued. Returning false drops it.
type Filter func(e Event) bool

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

// Config holds bus configuration.
type Config struct {
	QueueSize    int           // max queued events; further publishes are dropped
	HistorySize  int           // dispatched events kept for introspection
	PollInterval time.Duration // max wait of the consumer on an empty queue
}

// DefaultConfig returns default bus configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:    DefaultQueueSize,
		HistorySize:  DefaultHistorySize,
		PollInterval: DefaultPollInterval,
	}
}

type subscription struct {
	id       SubscriptionID
	name     string
	priority int
	handler  Handler
}

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Published   uint64            `json:"events_published"`
	Processed   uint64            `json:"events_processed"`
	Dropped     uint64            `json:"events_dropped"`
	Filtered    uint64            `json:"events_filtered"`
	Failed      uint64            `json:"handler_failures"`
	ByKind      map[string]uint64 `json:"events_by_kind"`
	Subscribers int               `json:"subscribers_count"`
	QueueSize   int               `json:"queue_size"`
	Running     bool              `json:"running"`
}

// Bus is the event broker. The zero value is not usable; call New.
type Bus struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	subs    map[Kind][]subscription
	filters []Filter
	lastID  SubscriptionID

	queue   *boundedQueue
	notify  chan struct{}
	history *history

	published atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	filtered  atomic.Uint64
	failed    atomic.Uint64
	kindMu    sync.Mutex
	byKind    map[Kind]uint64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// WithClock overrides the time source used for Event.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// New creates a stopped bus.
func New(cfg Config, opts ...Option) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HistorySize < 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	b := &Bus{
		cfg:     cfg,
		now:     time.Now,
		subs:    make(map[Kind][]subscription),
		queue:   newBoundedQueue(cfg.QueueSize),
		notify:  make(chan struct{}, 1),
		history: newHistory(cfg.HistorySize),
		byKind:  make(map[Kind]uint64),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Component("bus")
	}
	return b
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithSubscriberPriority orders the handler among handlers of the same
// kind. Lower values run first; equal values run in subscription order.
func WithSubscriberPriority(p int) SubscribeOption {
	return func(s *subscription) {
		s.priority = p
	}
}

// WithSubscriberName labels the handler in logs.
func WithSubscriberName(name string) SubscribeOption {
	return func(s *subscription) {
		s.name = name
	}
}

// Subscribe registers h for events of kind.
func (b *Bus) Subscribe(kind Kind, h Handler, opts ...SubscribeOption) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	sub := subscription{id: b.lastID, handler: h}
	for _, opt := range opts {
		opt(&sub)
	}
	if sub.name == "" {
		sub.name = fmt.Sprintf("%s#%d", kind, sub.id)
	}

	// dispatch iterates the slice it read without holding mu, so the list is
	// replaced rather than modified in place.
	list := b.subs[kind]
	at := sort.Search(len(list), func(i int) bool { return list[i].priority > sub.priority })
	next := make([]subscription, 0, len(list)+1)
	next = append(next, list[:at]...)
	next = append(next, sub)
	next = append(next, list[at:]...)
	b.subs[kind] = next

	b.logger.DebugCtx("subscribed", map[string]any{"kind": kind.String(), "subscriber": sub.name, "priority": sub.priority})
	return sub.id
}

// Unsubscribe removes the subscription id from kind. It reports whether a
// subscription was removed; unknown ids are ignored.
func (b *Bus) Unsubscribe(kind Kind, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, sub := range list {
		if sub.id != id {
			continue
		}
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, kind)
		} else {
			b.subs[kind] = next
		}
		b.logger.DebugCtx("unsubscribed", map[string]any{"kind": kind.String(), "subscriber": sub.name})
		return true
	}
	return false
}

// AddFilter appends a global filter. Filters run in the order added.
func (b *Bus) AddFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append(slices.Clip(b.filters), f)
}

// PublishOption sets optional event metadata.
type PublishOption func(*Event)

// WithPriority sets the queue priority (default PriorityNormal).
func WithPriority(p Priority) PublishOption {
	return func(e *Event) {
		e.Priority = p
	}
}

// WithCorrelationID groups related events.
func WithCorrelationID(id string) PublishOption {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// Publish queues an event built from p. It never blocks: filtered events
// and events arriving at a full queue are dropped and counted.
func (b *Bus) Publish(p Payload, source string, opts ...PublishOption) {
	if p == nil {
		return
	}
	e := Event{
		Kind:      p.Kind(),
		Payload:   p,
		CreatedAt: b.now(),
		Source:    source,
		Priority:  PriorityNormal,
	}
	for _, opt := range opts {
		opt(&e)
	}

	b.mu.RLock()
	filters := b.filters
	b.mu.RUnlock()

	for _, f := range filters {
		if !b.applyFilter(f, e) {
			b.dropped.Add(1)
			b.filtered.Add(1)
			b.logger.DebugCtx("event filtered", map[string]any{"kind": e.Kind.String(), "source": source})
			return
		}
	}

	queued, ok := b.queue.push(e)
	if !ok {
		b.dropped.Add(1)
		b.logger.WarnCtx("event queue full, dropping event", map[string]any{
			"kind":     e.Kind.String(),
			"source":   source,
			"capacity": b.cfg.QueueSize,
		})
		return
	}

	b.published.Add(1)
	b.kindMu.Lock()
	b.byKind[queued.Kind]++
	b.kindMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	b.logger.DebugCtx("event published", map[string]any{"kind": e.Kind.String(), "source": source, "seq": queued.Seq})
}

// PublishAsync publishes on a new goroutine.
func (b *Bus) PublishAsync(p Payload, source string, opts ...PublishOption) {
	go b.Publish(p, source, opts...)
}

// applyFilter treats a panicking filter as a rejection.
func (b *Bus) applyFilter(f Filter, e Event) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorCtx("event filter panicked", map[string]any{"kind": e.Kind.String(), "panic": fmt.Sprint(r)})
			keep = false
		}
	}()
	return f(e)
}

// Start launches the consumer goroutine. Calling Start on a running bus
// logs a warning and does nothing. If a previous consumer outlived its
// Stop timeout, Start waits for it to exit (or for ctx to end) so only one
// consumer ever dispatches.
func (b *Bus) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		b.logger.Warn("event bus already running")
		return
	}
	for prev := b.done; prev != nil && !isClosed(prev); prev = b.done {
		b.runMu.Unlock()
		b.logger.Warn("waiting for previous event bus consumer to exit")
		select {
		case <-prev:
		case <-ctx.Done():
		}
		b.runMu.Lock()
		if ctx.Err() != nil {
			b.logger.WarnCtx("event bus not started", map[string]any{"error": ctx.Err().Error()})
			return
		}
		if b.running {
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})

	go b.run(runCtx, b.stopCh, b.done)
	b.logger.InfoCtx("event bus started", map[string]any{"queue_size": b.cfg.QueueSize})
}

// Stop signals the consumer to exit and waits up to timeout for it. Events
// still queued stay queued. Stop on a stopped bus is a no-op.
func (b *Bus) Stop(timeout time.Duration) {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.cancel()
	done := b.done
	b.runMu.Unlock()

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		b.logger.WarnCtx("event bus consumer did not exit before timeout", map[string]any{"timeout": timeout.String()})
	}

	stats := b.Stats()
	b.logger.InfoCtx("event bus stopped", map[string]any{
		"published":   stats.Published,
		"processed":   stats.Processed,
		"dropped":     stats.Dropped,
		"queue_size":  stats.QueueSize,
		"subscribers": stats.Subscribers,
	})
}

// Running reports whether the consumer goroutine is active.
func (b *Bus) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (b *Bus) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(b.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if e, ok := b.queue.pop(); ok {
			b.history.add(e)
			b.dispatch(ctx, e)
			b.processed.Add(1)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.cfg.PollInterval)

		select {
		case <-stop:
			return
		case <-b.notify:
		case <-timer.C:
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := b.subs[e.Kind]
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.invoke(ctx, sub, e); err != nil {
			b.failed.Add(1)
			b.logger.ErrorCtx("event handler failed", map[string]any{
				"kind":       e.Kind.String(),
				"subscriber": sub.name,
				"source":     e.Source,
				"error":      err.Error(),
			})
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, e)
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := 0
	for _, list := range b.subs {
		subscribers += len(list)
	}
	b.mu.RUnlock()

	b.kindMu.Lock()
	byKind := make(map[string]uint64, len(b.byKind))
	for k, n := range b.byKind {
		byKind[k.String()] = n
	}
	b.kindMu.Unlock()

	return Stats{
		Published:   b.published.Load(),
		Processed:   b.processed.Load(),
		Dropped:     b.dropped.Load(),
		Filtered:    b.filtered.Load(),
		Failed:      b.failed.Load(),
		ByKind:      byKind,
		Subscribers: subscribers,
		QueueSize:   b.queue.len(),
		Running:     b.Running(),
	}
}

// RecentEvents returns up to n of the most recently dispatched events,
// oldest first. n <= 0 returns the whole history.
func (b *Bus) RecentEvents(n int) []Event {
	events := b.history.snapshot()
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// EventsByKind returns up to n of the most recent dispatched events of
// kind. n <= 0 returns all of them.
func (b *Bus) EventsByKind(kind Kind, n int) []Event {
	var matched []Event
	for _, e := range b.history.snapshot() {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

// ClearHistory empties the dispatched-event ring.
func (b *Bus) ClearHistory() {
	b.history.clear()
}

// BroadcastTTS publishes a request to speak text.
func (b *Bus) BroadcastTTS(text, style string) {
	b.Publish(TTSBroadcast{Text: text, Style: style}, "event_bus")
}

// EmitNavigation publishes a navigation start along route.
func (b *Bus) EmitNavigation(destination string, route []string) {
	b.Publish(NavigationStarted{Destination: destination, Route: route}, "navigation")
}

// EmitVisualDetection publishes a detector signal at high priority.
func (b *Bus) EmitVisualDetection(signal string, classes []string, confidence float64) {
	b.Publish(VisualDetection{Signal: signal, Classes: classes, Confidence: confidence}, "vision", WithPriority(PriorityHigh))
}
