// Package app wires luna's components together: storage, the event bus,
// the module registry, background jobs and the orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/db"
	"github.com/lunabadge/luna/internal/devices"
	"github.com/lunabadge/luna/internal/intent"
	"github.com/lunabadge/luna/internal/journal"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/memory"
	"github.com/lunabadge/luna/internal/orchestrator"
	"github.com/lunabadge/luna/internal/registry"
	"github.com/lunabadge/luna/internal/retry"
	"github.com/lunabadge/luna/internal/scheduler"
)

// Registered module names.
const (
	ModuleEventBus     = "event_bus"
	ModuleScheduler    = "scheduler"
	ModuleOrchestrator = "orchestrator"
)

// Scheduled job names.
const (
	JobRetry        = "retry_queue"
	JobHealth       = "health_snapshot"
	JobJournalPrune = "journal_prune"
)

const (
	journalKeep      = 10000
	journalPruneSpec = "@daily"
	failedRetention  = 24 * time.Hour
)

// App owns every long-lived component.
type App struct {
	Config       *config.Config
	DB           *db.DB
	Journal      *journal.Journal
	Memory       *memory.Store
	Bus          *bus.Bus
	Registry     *registry.Registry
	Retry        *retry.Queue
	Scheduler    *scheduler.Scheduler
	Orchestrator *orchestrator.Orchestrator

	logger *logging.Logger
}

type options struct {
	logger     *logging.Logger
	speaker    orchestrator.Speaker
	recognizer orchestrator.SpeechRecognizer
	navigator  orchestrator.Navigator
	vision     orchestrator.VisionEngine
	scenes     orchestrator.SceneSource
	onEvent    orchestrator.EventHandler
	dbPath     string
}

// Option configures New.
type Option func(*options)

// WithLogger sets the base logger. Components log under their own names.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSpeaker replaces the console speaker.
func WithSpeaker(s orchestrator.Speaker) Option {
	return func(o *options) {
		o.speaker = s
	}
}

// WithRecognizer replaces the text recognizer.
func WithRecognizer(r orchestrator.SpeechRecognizer) Option {
	return func(o *options) {
		o.recognizer = r
	}
}

// WithNavigator replaces the static navigator built from config.
func WithNavigator(n orchestrator.Navigator) Option {
	return func(o *options) {
		o.navigator = n
	}
}

// WithVision enables vision polling.
func WithVision(v orchestrator.VisionEngine) Option {
	return func(o *options) {
		o.vision = v
	}
}

// WithSceneSource sets where remember_path gets its scenes.
func WithSceneSource(s orchestrator.SceneSource) Option {
	return func(o *options) {
		o.scenes = s
	}
}

// WithEventHandler observes orchestrator events.
func WithEventHandler(h orchestrator.EventHandler) Option {
	return func(o *options) {
		o.onEvent = h
	}
}

// WithDBPath overrides the configured database path. ":memory:" is allowed.
func WithDBPath(path string) Option {
	return func(o *options) {
		o.dbPath = path
	}
}

// New builds all components and registers them with the module registry.
// Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Get()
	}
	component := func(name string) *logging.Logger { return logger.WithComponent(name) }

	classifier, visual, feedback, err := loadVocabulary(cfg.Intent.VocabularyFile)
	if err != nil {
		return nil, err
	}

	dbPath := o.dbPath
	if dbPath == "" {
		dbPath = cfg.DBPath()
	}
	database, err := db.Open(dbPath,
		db.WithLogger(component("db")),
		db.WithBusyTimeout(cfg.DB.BusyTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{Config: cfg, DB: database, logger: component("app")}
	fail := func(err error) (*App, error) {
		_ = database.Close()
		return nil, err
	}

	if a.Journal, err = journal.New(database); err != nil {
		return fail(err)
	}
	if a.Memory, err = memory.New(database, memory.WithLogger(component("memory"))); err != nil {
		return fail(err)
	}

	a.Bus = bus.New(cfg.BusSettings(), bus.WithLogger(component("bus")))
	a.Registry = registry.New(
		registry.WithLogger(component("registry")),
		registry.WithStateHook(a.publishModuleStatus),
	)
	a.Retry = retry.New(cfg.RetrySettings(), retry.WithLogger(component("retry")))
	a.Scheduler = scheduler.New(scheduler.WithLogger(component("scheduler")))

	if o.speaker == nil {
		o.speaker = devices.NewConsoleSpeaker(os.Stdout)
	}
	if o.recognizer == nil {
		o.recognizer = devices.TextRecognizer{}
	}
	if o.navigator == nil {
		o.navigator = devices.NewStaticNavigator(cfg.Navigation, component("navigator"))
	}

	orchCfg := cfg.OrchestratorSettings()
	orchCfg.Feedback = feedback
	orchOpts := []orchestrator.Option{
		orchestrator.WithConfig(orchCfg),
		orchestrator.WithLogger(component("orchestrator")),
		orchestrator.WithBus(a.Bus),
		orchestrator.WithSpeaker(o.speaker),
		orchestrator.WithRecognizer(o.recognizer),
		orchestrator.WithNavigator(o.navigator),
		orchestrator.WithMemory(a.Memory),
		orchestrator.WithClassifier(classifier),
		orchestrator.WithVisualMatcher(visual),
		orchestrator.WithRetryQueue(a.Retry),
		orchestrator.WithJournal(a.Journal),
	}
	if o.vision != nil {
		orchOpts = append(orchOpts, orchestrator.WithVision(o.vision))
	}
	if o.scenes != nil {
		orchOpts = append(orchOpts, orchestrator.WithSceneSource(o.scenes))
	}
	if o.onEvent != nil {
		orchOpts = append(orchOpts, orchestrator.WithEventHandler(o.onEvent))
	}
	a.Orchestrator = orchestrator.New(orchOpts...)

	if err := a.scheduleJobs(); err != nil {
		return fail(err)
	}
	if err := a.registerModules(); err != nil {
		return fail(err)
	}
	return a, nil
}

func loadVocabulary(path string) (intent.Classifier, *intent.VisualMatcher, map[intent.Signal]string, error) {
	vocab := intent.DefaultVocabulary()
	if path != "" {
		loaded, err := intent.LoadVocabulary(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load vocabulary: %w", err)
		}
		vocab = loaded
	}
	classifier, err := intent.NewKeywordClassifier(vocab)
	if err != nil {
		return nil, nil, nil, err
	}
	return classifier, intent.NewVisualMatcher(vocab), vocab.Feedback, nil
}

func (a *App) registerModules() error {
	busModule := registry.ModuleFuncs{
		StartFunc: func(ctx context.Context) error {
			a.Bus.Start(ctx)
			return nil
		},
		StopFunc: func(context.Context) error {
			a.Bus.Stop(a.Config.Bus.StopTimeout)
			return nil
		},
	}
	if err := a.Registry.Register(ModuleEventBus, busModule, registry.WithPriority(0)); err != nil {
		return err
	}
	if err := a.Registry.Register(ModuleScheduler, a.Scheduler,
		registry.WithDependencies(ModuleEventBus), registry.WithPriority(10)); err != nil {
		return err
	}
	return a.Registry.Register(ModuleOrchestrator, a.Orchestrator,
		registry.WithDependencies(ModuleEventBus), registry.WithPriority(5))
}

func (a *App) scheduleJobs() error {
	if spec := a.Config.Retry.Schedule; spec != "" {
		if err := a.Scheduler.AddJob(JobRetry, spec, a.processRetries); err != nil {
			return err
		}
	}
	if spec := a.Config.Health.Schedule; spec != "" {
		if err := a.Scheduler.AddJob(JobHealth, spec, func(context.Context) { a.PublishHealth() }); err != nil {
			return err
		}
	}
	return a.Scheduler.AddJob(JobJournalPrune, journalPruneSpec, a.prune)
}

func (a *App) processRetries(ctx context.Context) {
	if ok := a.Retry.ProcessPending(ctx); len(ok) > 0 {
		a.logger.InfoCtx("retries succeeded", map[string]any{"count": len(ok)})
	}
	a.Retry.ClearSucceeded()
}

// prune trims the journal and forgets retries that failed more than
// failedRetention ago.
func (a *App) prune(ctx context.Context) {
	if n := a.Retry.ClearFailed(time.Now().Add(-failedRetention)); n > 0 {
		a.logger.InfoCtx("failed retries cleared", map[string]any{"count": n})
	}

	n, err := a.Journal.Prune(ctx, journalKeep)
	if err != nil {
		a.logger.WarnCtx("journal prune failed", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		a.logger.InfoCtx("journal pruned", map[string]any{"deleted": n})
	}
}

// PublishHealth publishes a module health snapshot and returns it.
func (a *App) PublishHealth() registry.Health {
	h := a.Registry.CheckHealth()
	a.Bus.Publish(bus.SystemHealth{
		Total:   h.Total,
		Active:  h.Active,
		Stopped: h.Stopped,
		Failed:  h.Failed,
		Score:   h.Score,
	}, "registry", bus.WithPriority(bus.PriorityLow))
	return h
}

func (a *App) publishModuleStatus(name string, from, to registry.State, err error) {
	p := bus.ModuleStatusChanged{Module: name, From: from.String(), To: to.String()}
	if err != nil {
		p.Error = err.Error()
	}
	opts := []bus.PublishOption{}
	if to == registry.StateError {
		opts = append(opts, bus.WithPriority(bus.PriorityHigh))
	}
	a.Bus.Publish(p, "registry", opts...)
}

// Start starts every auto-start module in dependency order. Modules that
// fail are left in the error state; the others keep running. ctx bounds the
// lifetime of the running modules, so it must outlive Start.
func (a *App) Start(ctx context.Context) error {
	results, err := a.Registry.StartAll(ctx, false)
	started := 0
	for _, ok := range results {
		if ok {
			started++
		}
	}
	a.logger.InfoCtx("luna started", map[string]any{"modules": len(results), "started": started})
	return err
}

// Stop stops modules in reverse dependency order and closes the database.
func (a *App) Stop(ctx context.Context) error {
	results := a.Registry.StopAll(ctx, true)
	var errs []error
	for name, ok := range results {
		if !ok {
			errs = append(errs, fmt.Errorf("stop %s failed", name))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	a.logger.Info("luna stopped")
	return errors.Join(errs...)
}

// Say handles text as if it had been spoken to the device.
func (a *App) Say(ctx context.Context, text string) (intent.Intent, error) {
	a.Bus.Publish(bus.UserInput{Text: text}, "cli")
	return a.Orchestrator.HandleVoiceInput(ctx, orchestrator.VoiceInput{Text: text})
}

// See handles a detection of classes as if the camera had produced it.
func (a *App) See(ctx context.Context, classes []string, confidence float64) intent.Signal {
	return a.Orchestrator.HandleVisualEvent(ctx, orchestrator.Detection{Classes: classes, Confidence: confidence})
}

// Drain waits until the bus queue is empty or ctx is done. The CLI uses it
// so one-shot commands see their side effects before exiting.
func (a *App) Drain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for a.Bus.Stats().QueueSize > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
