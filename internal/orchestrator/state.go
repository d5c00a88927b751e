package orchestrator

import "fmt"

// State is the orchestrator's system state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateNavigating
	StateMemorizing
	StateProcessing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateNavigating:
		return "navigating"
	case StateMemorizing:
		return "memorizing"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
