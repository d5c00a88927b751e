package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModuleNotFound      = errors.New("module not found")
	ErrInvalidModule       = errors.New("invalid module")
	ErrDependencyMissing   = errors.New("dependency not registered")
	ErrDependencyNotActive = errors.New("dependency not active")
	ErrModuleFailed        = errors.New("module in error state")
	ErrDependencyCycle     = errors.New("dependency cycle")
)

// CycleError lists modules that cannot be ordered because they sit on, or
// depend on, a dependency cycle.
type CycleError struct {
	Modules []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among modules: %s", strings.Join(e.Modules, ", "))
}

func (e *CycleError) Unwrap() error { return ErrDependencyCycle }

// ModuleError records a failed lifecycle operation on one module.
type ModuleError struct {
	Module string
	Op     string // "start" or "stop"
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("%s module %s: %v", e.Op, e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }
