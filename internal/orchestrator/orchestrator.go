// Package orchestrator is luna's state machine and intent router.
//
// It takes recognized speech and visual detections from direct calls,
// classifies them, and drives the navigator, memory manager and speaker.
// Cross-component notifications go through the event bus; visual feedback
// is spoken from a private loop so detection never waits on speech.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/intent"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/retry"
)

// Defaults for orchestrator configuration.
const (
	DefaultFeedbackQueueSize = 64
	DefaultStopTimeout       = 2 * time.Second
	DefaultVisionInterval    = 500 * time.Millisecond
	DefaultActionLogSize     = 1000
)

const source = "orchestrator"

var (
	ErrNoRecognizer = errors.New("no speech recognizer configured")
	ErrEmptyInput   = errors.New("voice input has neither text nor audio")
	ErrNoSpeaker    = errors.New("no speaker configured")
	ErrNoMemory     = errors.New("no memory manager configured")
)

// Config holds orchestrator configuration.
type Config struct {
	FeedbackQueueSize int                      // pending visual feedback before drops
	StopTimeout       time.Duration            // max wait for internal loops on Stop
	VisionInterval    time.Duration            // polling period of the vision engine
	ActionLogSize     int                      // in-memory action log bound
	Feedback          map[intent.Signal]string // spoken text per visual signal
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		FeedbackQueueSize: DefaultFeedbackQueueSize,
		StopTimeout:       DefaultStopTimeout,
		VisionInterval:    DefaultVisionInterval,
		ActionLogSize:     DefaultActionLogSize,
		Feedback:          intent.DefaultVocabulary().Feedback,
	}
}

// Orchestrator owns the system state. Voice input cycles are serialized;
// visual input may arrive concurrently.
type Orchestrator struct {
	config     Config
	logger     *logging.Logger
	bus        *bus.Bus
	recognizer SpeechRecognizer
	navigator  Navigator
	speaker    Speaker
	memory     MemoryManager
	scenes     SceneSource
	vision     VisionEngine
	classifier intent.Classifier
	visual     *intent.VisualMatcher
	retry      *retry.Queue
	journal    ActionRecorder
	onEvent    EventHandler
	now        func() time.Time

	state   atomic.Int32
	inputMu sync.Mutex

	mu      sync.Mutex
	lastErr error
	task    *Task
	actions []Action

	feedback chan feedbackItem

	runMu   sync.Mutex
	running bool
	subs    map[bus.Kind]bus.SubscriptionID
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus sets the event bus used for notifications.
func WithBus(b *bus.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = b
	}
}

// WithRecognizer sets the speech recognizer.
func WithRecognizer(r SpeechRecognizer) Option {
	return func(o *Orchestrator) {
		o.recognizer = r
	}
}

// WithNavigator sets the navigator.
func WithNavigator(n Navigator) Option {
	return func(o *Orchestrator) {
		o.navigator = n
	}
}

// WithSpeaker sets the text-to-speech collaborator.
func WithSpeaker(s Speaker) Option {
	return func(o *Orchestrator) {
		o.speaker = s
	}
}

// WithMemory sets the memory manager.
func WithMemory(m MemoryManager) Option {
	return func(o *Orchestrator) {
		o.memory = m
	}
}

// WithSceneSource sets the scene source used by remember_path.
func WithSceneSource(s SceneSource) Option {
	return func(o *Orchestrator) {
		o.scenes = s
	}
}

// WithVision enables the vision polling loop.
func WithVision(v VisionEngine) Option {
	return func(o *Orchestrator) {
		o.vision = v
	}
}

// WithClassifier replaces the keyword classifier.
func WithClassifier(c intent.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithVisualMatcher replaces the default class-label matcher.
func WithVisualMatcher(m *intent.VisualMatcher) Option {
	return func(o *Orchestrator) {
		o.visual = m
	}
}

// WithRetryQueue queues failed speech and memory writes for later.
func WithRetryQueue(q *retry.Queue) Option {
	return func(o *Orchestrator) {
		o.retry = q
	}
}

// WithJournal mirrors the action log to persistent storage.
func WithJournal(j ActionRecorder) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithConfig sets the configuration.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		o.config = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithEventHandler sets a callback for lifecycle events.
func WithEventHandler(h EventHandler) Option {
	return func(o *Orchestrator) {
		o.onEvent = h
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator in StateIdle.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config: DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logging.Component("orchestrator")
	}
	if o.classifier == nil {
		o.classifier = intent.Default()
	}
	if o.visual == nil {
		o.visual = intent.NewVisualMatcher(nil)
	}
	if o.config.FeedbackQueueSize <= 0 {
		o.config.FeedbackQueueSize = DefaultFeedbackQueueSize
	}
	if o.config.StopTimeout <= 0 {
		o.config.StopTimeout = DefaultStopTimeout
	}
	if o.config.ActionLogSize <= 0 {
		o.config.ActionLogSize = DefaultActionLogSize
	}
	if o.config.Feedback == nil {
		o.config.Feedback = intent.DefaultVocabulary().Feedback
	}

	o.feedback = make(chan feedbackItem, o.config.FeedbackQueueSize)
	o.registerRetryCallbacks()
	return o
}

func (o *Orchestrator) emit(e Event) {
	if o.onEvent == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = o.now()
	}
	o.onEvent(e)
}

func (o *Orchestrator) publish(p bus.Payload, opts ...bus.PublishOption) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(p, source, opts...)
}

// Start subscribes to the bus and launches the feedback loop and, when a
// vision engine is configured, the vision polling loop. Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stopCh = make(chan struct{})
	o.running = true

	if o.bus != nil {
		o.subs = map[bus.Kind]bus.SubscriptionID{
			bus.KindVisualDetection: o.bus.Subscribe(bus.KindVisualDetection, o.onVisualDetection,
				bus.WithSubscriberName("orchestrator.visual_feedback")),
			bus.KindTTSBroadcast: o.bus.Subscribe(bus.KindTTSBroadcast, o.onTTSBroadcast,
				bus.WithSubscriberName("orchestrator.tts_broadcast")),
			bus.KindNavigationStarted: o.bus.Subscribe(bus.KindNavigationStarted, o.onNavigationStarted,
				bus.WithSubscriberName("orchestrator.navigation_memory")),
			bus.KindNavigationCompleted: o.bus.Subscribe(bus.KindNavigationCompleted, o.onNavigationCompleted,
				bus.WithSubscriberName("orchestrator.task_tracker")),
		}
	}

	o.wg.Add(1)
	go o.feedbackLoop(runCtx, o.stopCh)

	if o.vision != nil && o.config.VisionInterval > 0 {
		o.wg.Add(1)
		go o.visionLoop(runCtx, o.stopCh)
	}

	o.setState(StateIdle)
	o.publish(bus.SystemStarted{Component: source})
	o.logger.InfoCtx("orchestrator started", map[string]any{"vision": o.vision != nil})
	return nil
}

// Stop unsubscribes from the bus and waits up to the configured timeout for
// the internal loops. Stop on a stopped orchestrator is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return nil
	}
	o.running = false
	if o.bus != nil {
		for kind, id := range o.subs {
			o.bus.Unsubscribe(kind, id)
		}
		o.subs = nil
	}
	close(o.stopCh)
	o.cancel()
	o.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(o.config.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		o.logger.WarnCtx("orchestrator loops did not exit before timeout", map[string]any{"timeout": o.config.StopTimeout.String()})
	case <-ctx.Done():
	}

	o.publish(bus.SystemStopped{Component: source})
	o.logger.Info("orchestrator stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (o *Orchestrator) Running() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.running
}

// State returns a snapshot of the system state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SetState is the only writer of the system state.
func (o *Orchestrator) SetState(s State) {
	o.setState(s)
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev == s {
		return
	}
	o.logger.DebugCtx("state changed", map[string]any{"from": prev.String(), "to": s.String()})
	o.emit(Event{Type: EventStateChanged, From: prev, To: s})
}

// LastError returns the most recent unrecovered failure. It is cleared by
// the next successful input cycle.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

// Status is a snapshot for the CLI and monitor.
type Status struct {
	State        string `json:"state"`
	Running      bool   `json:"running"`
	LastError    string `json:"last_error,omitempty"`
	CurrentTask  *Task  `json:"current_task,omitempty"`
	Actions      int    `json:"actions"`
	RetryPending int    `json:"retry_pending"`
}

// Status summarizes the orchestrator.
func (o *Orchestrator) Status() Status {
	s := Status{State: o.State().String(), Running: o.Running()}
	if err := o.LastError(); err != nil {
		s.LastError = err.Error()
	}
	if task, ok := o.CurrentTask(); ok {
		s.CurrentTask = &task
	}
	o.mu.Lock()
	s.Actions = len(o.actions)
	o.mu.Unlock()
	if o.retry != nil {
		s.RetryPending = len(o.retry.Pending(""))
	}
	return s
}
