// Package registry tracks luna's named subsystems, their dependencies and
// lifecycle state, and starts and stops them in dependency order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lunabadge/luna/internal/logging"
)

// State is a module's lifecycle state.
type State int

const (
	StateRegistered State = iota
	StateActive
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Module is a subsystem with a start/stop lifecycle.
type Module interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ModuleFuncs adapts plain functions to Module. Nil funcs succeed.
type ModuleFuncs struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (m ModuleFuncs) Start(ctx context.Context) error {
	if m.StartFunc == nil {
		return nil
	}
	return m.StartFunc(ctx)
}

func (m ModuleFuncs) Stop(ctx context.Context) error {
	if m.StopFunc == nil {
		return nil
	}
	return m.StopFunc(ctx)
}

// StateHook observes state transitions. err is set for transitions to
// StateError.
type StateHook func(name string, from, to State, err error)

type record struct {
	name      string
	module    Module
	deps      []string
	autoStart bool
	priority  int
	seq       int

	state     State
	err       error
	startedAt time.Time
	stoppedAt time.Time
}

// Registry owns module records. It is safe for concurrent use.
//
// Lifecycle operations are serialized by a dedicated mutex so that two
// callers never start or stop modules concurrently. The record map has its
// own lock that is never held while a module's Start or Stop runs; module
// code must still not call back into lifecycle methods.
type Registry struct {
	logger *logging.Logger
	hook   StateHook
	now    func() time.Time

	mu        sync.RWMutex
	modules   map[string]*record
	nextSeq   int
	order     []string
	orderErr  error
	orderSet  bool
	lifecycle sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithStateHook registers a callback for every state transition.
func WithStateHook(h StateHook) Option {
	return func(r *Registry) {
		r.hook = h
	}
}

// WithClock overrides the time source for start/stop timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		modules: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Component("registry")
	}
	return r
}

// RegisterOption configures a module record.
type RegisterOption func(*record)

// WithDependencies declares modules that must be active before this one.
func WithDependencies(names ...string) RegisterOption {
	return func(rec *record) {
		rec.deps = append(rec.deps, names...)
	}
}

// WithAutoStart controls whether StartAll starts the module without
// includeNonAuto. Default true.
func WithAutoStart(auto bool) RegisterOption {
	return func(rec *record) {
		rec.autoStart = auto
	}
}

// WithPriority breaks ties among modules that are ready at the same time.
// Lower values start first.
func WithPriority(p int) RegisterOption {
	return func(rec *record) {
		rec.priority = p
	}
}

// Register inserts or replaces a module record. Replacing an existing name
// is logged and resets the module to StateRegistered.
func (r *Registry) Register(name string, m Module, opts ...RegisterOption) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidModule)
	}
	if m == nil {
		return fmt.Errorf("%w: %s has no implementation", ErrInvalidModule, name)
	}

	rec := &record{name: name, module: m, autoStart: true}
	for _, opt := range opts {
		opt(rec)
	}
	rec.deps = dedupe(rec.deps)

	r.mu.Lock()
	if prev, ok := r.modules[name]; ok {
		rec.seq = prev.seq
		r.logger.WarnCtx("module re-registered, replacing previous record", map[string]any{
			"module":         name,
			"previous_state": prev.state.String(),
		})
	} else {
		rec.seq = r.nextSeq
		r.nextSeq++
	}
	r.modules[name] = rec
	r.invalidateLocked()
	r.mu.Unlock()

	r.logger.InfoCtx("module registered", map[string]any{
		"module":       name,
		"dependencies": rec.deps,
		"auto_start":   rec.autoStart,
		"priority":     rec.priority,
	})
	return nil
}

// Unregister stops the module if it is active, then removes it and every
// dependency edge that points at it.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	rec, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	var stopErr error
	if rec.state == StateActive {
		stopErr = r.stop(ctx, name)
	}

	r.mu.Lock()
	delete(r.modules, name)
	for _, other := range r.modules {
		other.deps = slices.DeleteFunc(other.deps, func(d string) bool { return d == name })
	}
	r.invalidateLocked()
	r.mu.Unlock()

	r.logger.InfoCtx("module unregistered", map[string]any{"module": name})
	return stopErr
}

// StartModule starts name. With startDeps, missing-but-registered
// dependencies are started first, depth first; otherwise every dependency
// must already be active. Starting an active module is a no-op. A module in
// StateError is not retried until ResetModule or re-registration.
func (r *Registry) StartModule(ctx context.Context, name string, startDeps bool) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.start(ctx, name, startDeps, make(map[string]bool), 0)
}

// StopModule stops an active module. Active dependents are reported but do
// not prevent the stop. Stopping a module that is not active is a no-op.
func (r *Registry) StopModule(ctx context.Context, name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, ok := r.lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return r.stop(ctx, name)
}

// StartAll starts modules in dependency order and reports per-module
// success. Modules outside any cycle are still started when a cycle exists;
// the returned error then wraps a *CycleError together with any start
// failures.
func (r *Registry) StartAll(ctx context.Context, includeNonAuto bool) (map[string]bool, error) {
	order, orderErr := r.ComputeOrder()

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	results := make(map[string]bool, len(order))
	var errs []error
	if orderErr != nil {
		errs = append(errs, orderErr)
		var ce *CycleError
		if errors.As(orderErr, &ce) {
			for _, name := range ce.Modules {
				results[name] = false
			}
			r.logger.ErrorCtx("modules skipped due to dependency cycle", map[string]any{"modules": ce.Modules})
		}
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rec, ok := r.lookup(name)
		if !ok {
			continue
		}
		if !rec.autoStart && !includeNonAuto {
			continue
		}
		err := r.start(ctx, name, false, make(map[string]bool), 0)
		results[name] = err == nil
		if err != nil {
			errs = append(errs, err)
		}
	}

	started := 0
	for _, ok := range results {
		if ok {
			started++
		}
	}
	r.logger.InfoCtx("start all complete", map[string]any{"started": started, "attempted": len(results)})
	return results, errors.Join(errs...)
}

// StopAll stops every active module. With reverse, modules stop in the
// reverse of the start order so dependents go down before their
// dependencies. Modules stuck on a cycle are stopped last.
func (r *Registry) StopAll(ctx context.Context, reverse bool) map[string]bool {
	order, orderErr := r.ComputeOrder()
	var ce *CycleError
	if errors.As(orderErr, &ce) {
		order = append(slices.Clone(order), ce.Modules...)
	}
	if reverse {
		order = slices.Clone(order)
		slices.Reverse(order)
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	results := make(map[string]bool)
	for _, name := range order {
		rec, ok := r.lookup(name)
		if !ok || rec.state != StateActive {
			continue
		}
		results[name] = r.stop(ctx, name) == nil
	}
	r.logger.InfoCtx("stop all complete", map[string]any{"stopped": len(results)})
	return results
}

// ResetModule clears StateError back to StateRegistered so the module can
// be started again.
func (r *Registry) ResetModule(name string) error {
	r.mu.Lock()
	rec, ok := r.modules[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if rec.state != StateError {
		r.mu.Unlock()
		return nil
	}
	rec.state = StateRegistered
	rec.err = nil
	r.mu.Unlock()

	r.notify(name, StateError, StateRegistered, nil)
	r.logger.InfoCtx("module reset", map[string]any{"module": name})
	return nil
}

// Dependents returns the names of modules that declare name as a
// dependency, in registration order.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*record
	for _, rec := range r.modules {
		if slices.Contains(rec.deps, name) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *record) int { return a.seq - b.seq })
	names := make([]string, len(out))
	for i, rec := range out {
		names[i] = rec.name
	}
	return names
}

// start must be called with the lifecycle lock held.
func (r *Registry) start(ctx context.Context, name string, startDeps bool, visiting map[string]bool, depth int) error {
	rec, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	switch rec.state {
	case StateActive:
		return nil
	case StateError:
		return &ModuleError{Module: name, Op: "start", Err: ErrModuleFailed}
	}

	if visiting[name] || depth > r.count() {
		chain := make([]string, 0, len(visiting)+1)
		for n := range visiting {
			chain = append(chain, n)
		}
		slices.Sort(chain)
		r.logger.ErrorCtx("dependency cycle while starting module", map[string]any{"module": name, "chain": chain})
		return &CycleError{Modules: chain}
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range rec.deps {
		depRec, ok := r.lookup(dep)
		if !ok {
			r.logger.ErrorCtx("dependency not registered", map[string]any{"module": name, "dependency": dep})
			return &ModuleError{Module: name, Op: "start", Err: fmt.Errorf("%w: %s", ErrDependencyMissing, dep)}
		}
		if startDeps {
			if err := r.start(ctx, dep, true, visiting, depth+1); err != nil {
				return &ModuleError{Module: name, Op: "start", Err: fmt.Errorf("dependency %s: %w", dep, err)}
			}
			continue
		}
		if depRec.state != StateActive {
			r.logger.WarnCtx("dependency not active", map[string]any{
				"module":     name,
				"dependency": dep,
				"state":      depRec.state.String(),
			})
			return &ModuleError{Module: name, Op: "start", Err: fmt.Errorf("%w: %s", ErrDependencyNotActive, dep)}
		}
	}

	r.logger.InfoCtx("starting module", map[string]any{"module": name})
	if err := call(ctx, rec.module.Start); err != nil {
		r.transition(name, StateError, err)
		r.logger.ErrorCtx("module start failed", map[string]any{"module": name, "error": err.Error()})
		return &ModuleError{Module: name, Op: "start", Err: err}
	}
	r.transition(name, StateActive, nil)
	return nil
}

// stop must be called with the lifecycle lock held.
func (r *Registry) stop(ctx context.Context, name string) error {
	rec, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if rec.state != StateActive {
		r.logger.DebugCtx("module not active, nothing to stop", map[string]any{"module": name, "state": rec.state.String()})
		return nil
	}

	var active []string
	for _, dep := range r.Dependents(name) {
		if d, ok := r.lookup(dep); ok && d.state == StateActive {
			active = append(active, dep)
		}
	}
	if len(active) > 0 {
		r.logger.WarnCtx("stopping module with active dependents", map[string]any{"module": name, "dependents": active})
	}

	r.logger.InfoCtx("stopping module", map[string]any{"module": name})
	if err := call(ctx, rec.module.Stop); err != nil {
		r.transition(name, StateError, err)
		r.logger.ErrorCtx("module stop failed", map[string]any{"module": name, "error": err.Error()})
		return &ModuleError{Module: name, Op: "stop", Err: err}
	}
	r.transition(name, StateStopped, nil)
	return nil
}

// call runs a lifecycle func, converting a panic into an error.
func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Registry) transition(name string, to State, err error) {
	r.mu.Lock()
	rec, ok := r.modules[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := rec.state
	rec.state = to
	rec.err = err
	switch to {
	case StateActive:
		rec.startedAt = r.now()
	case StateStopped:
		rec.stoppedAt = r.now()
	}
	r.mu.Unlock()

	r.notify(name, from, to, err)
}

func (r *Registry) notify(name string, from, to State, err error) {
	if r.hook == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorCtx("state hook panicked", map[string]any{"module": name, "panic": fmt.Sprint(p)})
		}
	}()
	r.hook(name, from, to, err)
}

// lookup returns a copy of the record.
func (r *Registry) lookup(name string) (record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.modules[name]
	if !ok {
		return record{}, false
	}
	cp := *rec
	cp.deps = slices.Clone(rec.deps)
	return cp, true
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

func (r *Registry) invalidateLocked() {
	r.order = nil
	r.orderErr = nil
	r.orderSet = false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
