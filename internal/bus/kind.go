package bus

import "fmt"

// Kind classifies an event. Every Kind has exactly one payload type.
type Kind int

const (
	KindVoiceRecognized Kind = iota + 1
	KindIntentParsed
	KindVisualDetection
	KindNavigationStarted
	KindNavigationCompleted
	KindPathPlanned
	KindMemorySaved
	KindTTSBroadcast
	KindTTSCompleted
	KindTTSFailed
	KindSystemStarted
	KindSystemStopped
	KindSystemError
	KindSystemHealth
	KindModuleStatusChanged
	KindStateChanged
	KindTaskStarted
	KindTaskCompleted
	KindTaskInterrupted
	KindUserInput
)

var kindNames = map[Kind]string{
	KindVoiceRecognized:     "voice_recognized",
	KindIntentParsed:        "voice_intent_parsed",
	KindVisualDetection:     "visual",
	KindNavigationStarted:   "navigation_started",
	KindNavigationCompleted: "navigation_completed",
	KindPathPlanned:         "path_planned",
	KindMemorySaved:         "memory_saved",
	KindTTSBroadcast:        "tts_broadcast",
	KindTTSCompleted:        "tts_completed",
	KindTTSFailed:           "tts_failed",
	KindSystemStarted:       "system_started",
	KindSystemStopped:       "system_stopped",
	KindSystemError:         "system_error",
	KindSystemHealth:        "system_health",
	KindModuleStatusChanged: "module_status_changed",
	KindStateChanged:        "state_changed",
	KindTaskStarted:         "task_started",
	KindTaskCompleted:       "task_completed",
	KindTaskInterrupted:     "task_interrupted",
	KindUserInput:           "user_input",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := KindVoiceRecognized; k <= KindUserInput; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseKind resolves a stable kind name such as "visual".
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

// Priority orders events in the queue; lower values dequeue first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}
