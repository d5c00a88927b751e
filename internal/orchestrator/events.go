package orchestrator

import "time"

// EventType classifies orchestrator lifecycle events.
type EventType int

const (
	EventStateChanged   EventType = iota // system state transition
	EventIntentHandled                   // an input cycle finished dispatching
	EventSpoken                          // text was handed to the speaker
	EventVisualFeedback                  // a visual signal was mapped to feedback
	EventError                           // an unrecovered failure in an input cycle
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventIntentHandled:
		return "intent_handled"
	case EventSpoken:
		return "spoken"
	case EventVisualFeedback:
		return "visual_feedback"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event carries data about an orchestrator lifecycle event.
type Event struct {
	Type          EventType
	Time          time.Time
	From          State  // EventStateChanged
	To            State  // EventStateChanged
	Intent        string // EventIntentHandled
	Text          string // input text, spoken text or feedback text
	CorrelationID string
	Error         string
}

// EventHandler is a callback that receives orchestrator events. It runs on
// the goroutine that produced the event and must return quickly.
type EventHandler func(Event)
