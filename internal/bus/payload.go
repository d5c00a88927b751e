package bus

import "fmt"

// Payload is the typed body of an event. The set of implementations is
// closed: each payload struct below reports the Kind it belongs to.
type Payload interface {
	Kind() Kind
	sealed()
}

// VoiceRecognized carries text returned by the speech recognizer.
type VoiceRecognized struct {
	Text       string
	Confidence float64
}

// IntentParsed records the classifier's decision for one utterance.
type IntentParsed struct {
	Text       string
	Intent     string
	Confidence float64
	Keyword    string
}

// VisualDetection is a detector result mapped to a named visual signal.
type VisualDetection struct {
	Signal     string
	Classes    []string
	Confidence float64
}

// NavigationStarted is published once a route has been planned.
type NavigationStarted struct {
	TaskID      string
	Destination string
	Distance    float64
	Direction   string
	Route       []string
}

type NavigationCompleted struct {
	TaskID      string
	Destination string
}

// PathPlanned reports the outcome of a planning request, found or not.
type PathPlanned struct {
	Destination string
	Found       bool
}

type MemorySaved struct {
	Operation   string
	Destination string
	Scenes      int
}

// TTSBroadcast asks whoever owns the speaker to say Text.
type TTSBroadcast struct {
	Text  string
	Style string
}

type TTSCompleted struct {
	Text string
}

type TTSFailed struct {
	Text  string
	Error string
}

type SystemStarted struct {
	Component string
}

type SystemStopped struct {
	Component string
}

type SystemError struct {
	Component string
	Message   string
}

// SystemHealth is a periodic snapshot of module health.
type SystemHealth struct {
	Total   int
	Active  int
	Stopped int
	Failed  int
	Score   float64
}

type ModuleStatusChanged struct {
	Module string
	From   string
	To     string
	Error  string
}

type StateChanged struct {
	From string
	To   string
}

type TaskStarted struct {
	TaskID      string
	Type        string
	Description string
	Intent      string
	Destination string
}

type TaskCompleted struct {
	TaskID string
}

type TaskInterrupted struct {
	TaskID string
	Reason string
}

type UserInput struct {
	Text string
}

func (VoiceRecognized) Kind() Kind     { return KindVoiceRecognized }
func (IntentParsed) Kind() Kind        { return KindIntentParsed }
func (VisualDetection) Kind() Kind     { return KindVisualDetection }
func (NavigationStarted) Kind() Kind   { return KindNavigationStarted }
func (NavigationCompleted) Kind() Kind { return KindNavigationCompleted }
func (PathPlanned) Kind() Kind         { return KindPathPlanned }
func (MemorySaved) Kind() Kind         { return KindMemorySaved }
func (TTSBroadcast) Kind() Kind        { return KindTTSBroadcast }
func (TTSCompleted) Kind() Kind        { return KindTTSCompleted }
func (TTSFailed) Kind() Kind           { return KindTTSFailed }
func (SystemStarted) Kind() Kind       { return KindSystemStarted }
func (SystemStopped) Kind() Kind       { return KindSystemStopped }
func (SystemError) Kind() Kind         { return KindSystemError }
func (SystemHealth) Kind() Kind        { return KindSystemHealth }
func (ModuleStatusChanged) Kind() Kind { return KindModuleStatusChanged }
func (StateChanged) Kind() Kind        { return KindStateChanged }
func (TaskStarted) Kind() Kind         { return KindTaskStarted }
func (TaskCompleted) Kind() Kind       { return KindTaskCompleted }
func (TaskInterrupted) Kind() Kind     { return KindTaskInterrupted }
func (UserInput) Kind() Kind           { return KindUserInput }

func (VoiceRecognized) sealed()     {}
func (IntentParsed) sealed()        {}
func (VisualDetection) sealed()     {}
func (NavigationStarted) sealed()   {}
func (NavigationCompleted) sealed() {}
func (PathPlanned) sealed()         {}
func (MemorySaved) sealed()         {}
func (TTSBroadcast) sealed()        {}
func (TTSCompleted) sealed()        {}
func (TTSFailed) sealed()           {}
func (SystemStarted) sealed()       {}
func (SystemStopped) sealed()       {}
func (SystemError) sealed()         {}
func (SystemHealth) sealed()        {}
func (ModuleStatusChanged) sealed() {}
func (StateChanged) sealed()        {}
func (TaskStarted) sealed()         {}
func (TaskCompleted) sealed()       {}
func (TaskInterrupted) sealed()     {}
func (UserInput) sealed()           {}

// Summary renders a payload as a short human-readable line for logs and
// the monitor. The switch is exhaustive over the closed payload set.
func Summary(p Payload) string {
	switch v := p.(type) {
	case VoiceRecognized:
		return v.Text
	case IntentParsed:
		return v.Intent + " <- " + v.Text
	case VisualDetection:
		return v.Signal
	case NavigationStarted:
		return "to " + v.Destination
	case NavigationCompleted:
		return "arrived " + v.Destination
	case PathPlanned:
		if v.Found {
			return "route to " + v.Destination
		}
		return "no route to " + v.Destination
	case MemorySaved:
		return v.Operation
	case TTSBroadcast:
		return v.Text
	case TTSCompleted:
		return v.Text
	case TTSFailed:
		return v.Text + ": " + v.Error
	case SystemStarted:
		return v.Component
	case SystemStopped:
		return v.Component
	case SystemError:
		return v.Component + ": " + v.Message
	case SystemHealth:
		return healthLine(v)
	case ModuleStatusChanged:
		return v.Module + " " + v.From + " -> " + v.To
	case StateChanged:
		return v.From + " -> " + v.To
	case TaskStarted:
		return v.Description
	case TaskCompleted:
		return v.TaskID
	case TaskInterrupted:
		return v.TaskID + ": " + v.Reason
	case UserInput:
		return v.Text
	case nil:
		return ""
	default:
		return p.Kind().String()
	}
}

func healthLine(h SystemHealth) string {
	return fmt.Sprintf("%d/%d active (%.0f%%)", h.Active, h.Total, h.Score)
}
