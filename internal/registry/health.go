package registry

import (
	"slices"
	"time"
)

// Health aggregates module states.
type Health struct {
	Total      int              `json:"total_modules"`
	Registered int              `json:"registered_modules"`
	Active     int              `json:"active_modules"`
	Stopped    int              `json:"stopped_modules"`
	Failed     int              `json:"error_modules"`
	Score      float64          `json:"health_score"`
	Modules    map[string]State `json:"-"`
}

// Healthy reports whether every registered module is active.
func (h Health) Healthy() bool {
	return h.Total > 0 && h.Active == h.Total
}

// ModuleInfo is a read-only view of a module record.
type ModuleInfo struct {
	Name         string    `json:"name"`
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	Dependencies []string  `json:"dependencies"`
	Dependents   []string  `json:"dependents"`
	AutoStart    bool      `json:"auto_start"`
	Priority     int       `json:"priority"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	StoppedAt    time.Time `json:"stopped_at,omitzero"`
}

// CheckHealth counts modules by state. Score is Active/Total*100, or 0 with
// no modules registered.
func (r *Registry) CheckHealth() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := Health{Total: len(r.modules), Modules: make(map[string]State, len(r.modules))}
	for name, rec := range r.modules {
		h.Modules[name] = rec.state
		switch rec.state {
		case StateRegistered:
			h.Registered++
		case StateActive:
			h.Active++
		case StateStopped:
			h.Stopped++
		case StateError:
			h.Failed++
		}
	}
	if h.Total > 0 {
		h.Score = float64(h.Active) / float64(h.Total) * 100
	}
	return h
}

// ListModules returns every module in registration order.
func (r *Registry) ListModules() []ModuleInfo {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.modules))
	for _, rec := range r.modules {
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b *record) int { return a.seq - b.seq })
	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.name
	}
	r.mu.RUnlock()

	infos := make([]ModuleInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.Module(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Module returns the record for name.
func (r *Registry) Module(name string) (ModuleInfo, bool) {
	rec, ok := r.lookup(name)
	if !ok {
		return ModuleInfo{}, false
	}
	info := ModuleInfo{
		Name:         rec.name,
		State:        rec.state,
		StateName:    rec.state.String(),
		Dependencies: rec.deps,
		Dependents:   r.Dependents(name),
		AutoStart:    rec.autoStart,
		Priority:     rec.priority,
		StartedAt:    rec.startedAt,
		StoppedAt:    rec.stoppedAt,
	}
	if rec.err != nil {
		info.Error = rec.err.Error()
	}
	return info, true
}

// State returns the current state of name.
func (r *Registry) State(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.modules[name]
	if !ok {
		return 0, false
	}
	return rec.state, true
}
