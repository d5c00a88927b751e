package registry

import (
	"slices"
)

// ComputeOrder returns a start order in which every module follows its
// registered dependencies. Among modules that become ready together, lower
// priority goes first, then earlier registration.
//
// When the graph has a cycle the returned order holds every module that can
// be ordered, and the error is a *CycleError naming the rest. Dependencies
// on unregistered names do not affect ordering; they fail at start time.
// The result is cached until the next Register or Unregister.
func (r *Registry) ComputeOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.orderSet {
		return slices.Clone(r.order), r.orderErr
	}

	inDegree := make(map[string]int, len(r.modules))
	dependents := make(map[string][]string, len(r.modules))
	for name := range r.modules {
		inDegree[name] = 0
	}
	for name, rec := range r.modules {
		for _, dep := range rec.deps {
			if _, ok := r.modules[dep]; !ok {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	less := func(a, b string) int {
		ra, rb := r.modules[a], r.modules[b]
		if ra.priority != rb.priority {
			return ra.priority - rb.priority
		}
		return ra.seq - rb.seq
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(r.modules))
	for len(ready) > 0 {
		slices.SortFunc(ready, less)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	var err error
	if len(order) < len(r.modules) {
		placed := make(map[string]bool, len(order))
		for _, name := range order {
			placed[name] = true
		}
		var stuck []string
		for name := range r.modules {
			if !placed[name] {
				stuck = append(stuck, name)
			}
		}
		slices.Sort(stuck)
		err = &CycleError{Modules: stuck}
		r.logger.ErrorCtx("dependency cycle detected", map[string]any{"modules": stuck})
	}

	r.order = order
	r.orderErr = err
	r.orderSet = true
	return slices.Clone(order), err
}
