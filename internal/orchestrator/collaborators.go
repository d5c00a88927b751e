package orchestrator

import (
	"context"
	"time"

	"github.com/lunabadge/luna/internal/journal"
)

// Path is a planned route.
type Path struct {
	Destination string   `json:"destination"`
	Distance    float64  `json:"distance"`  // meters
	Direction   string   `json:"direction"` // spoken direction, e.g. "左侧"
	Nodes       []string `json:"nodes,omitempty"`
}

// Scene is one captured view recorded while memorizing a path.
type Scene struct {
	Description string    `json:"description"`
	Labels      []string  `json:"labels,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Detection is a raw detector result.
type Detection struct {
	Classes    []string  `json:"classes"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box,omitempty"`
}

// SpeechRecognizer turns audio into text.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte) (string, error)
}

// Navigator plans routes. A nil path with a nil error means no route
// exists.
type Navigator interface {
	PlanPath(ctx context.Context, destination string) (*Path, error)
	PlanPathToFacility(ctx context.Context, facility string) (*Path, error)
}

// Speaker speaks text. Implementations must be safe for concurrent use.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// MemoryManager persists remembered paths and navigations.
type MemoryManager interface {
	SavePathMemory(ctx context.Context, scenes []Scene) error
	SaveNavigationMemory(ctx context.Context, path *Path, destination string) error
}

// SceneSource captures scenes for path memory, typically from the camera.
type SceneSource interface {
	RecordScenes(ctx context.Context) ([]Scene, error)
}

// VisionEngine produces detections from the current camera frame.
type VisionEngine interface {
	Detect(ctx context.Context) ([]Detection, error)
}

// ActionRecorder persists action log entries.
type ActionRecorder interface {
	Record(ctx context.Context, e journal.Entry) error
}
