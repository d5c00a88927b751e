// Package devices holds the stand-in collaborators luna uses when no
// wearable hardware is attached: a console speaker, a pass-through speech
// recognizer and a navigator that answers from a configured route table.
package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/orchestrator"
)

var (
	_ orchestrator.Speaker          = (*ConsoleSpeaker)(nil)
	_ orchestrator.SpeechRecognizer = TextRecognizer{}
	_ orchestrator.Navigator        = (*StaticNavigator)(nil)
)

// ErrEmptyAudio is returned when there is nothing to recognize.
var ErrEmptyAudio = errors.New("empty audio")

// ConsoleSpeaker writes each utterance as a line to w.
type ConsoleSpeaker struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	now    func() time.Time
	stamp  bool
}

// SpeakerOption configures a ConsoleSpeaker.
type SpeakerOption func(*ConsoleSpeaker)

// WithPrefix sets the text written before each utterance.
func WithPrefix(p string) SpeakerOption {
	return func(s *ConsoleSpeaker) {
		s.prefix = p
	}
}

// WithTimestamps prefixes each line with the time it was spoken.
func WithTimestamps(now func() time.Time) SpeakerOption {
	return func(s *ConsoleSpeaker) {
		s.stamp = true
		if now != nil {
			s.now = now
		}
	}
}

// NewConsoleSpeaker returns a speaker writing to w.
func NewConsoleSpeaker(w io.Writer, opts ...SpeakerOption) *ConsoleSpeaker {
	s := &ConsoleSpeaker{w: w, prefix: "🔊 ", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak writes text. It honors ctx cancellation before writing.
func (s *ConsoleSpeaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var line string
	if s.stamp {
		line = s.now().Format("15:04:05") + " "
	}
	line += s.prefix + text + "\n"
	if _, err := io.WriteString(s.w, line); err != nil {
		return fmt.Errorf("write speech: %w", err)
	}
	return nil
}

// TextRecognizer treats audio bytes as UTF-8 text. It lets the CLI and
// tests drive the audio path of the orchestrator.
type TextRecognizer struct{}

// Recognize returns the trimmed audio bytes as text.
func (TextRecognizer) Recognize(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(audio))
	if text == "" {
		return "", ErrEmptyAudio
	}
	return text, nil
}

// StaticNavigator plans routes from a fixed table.
type StaticNavigator struct {
	facilities   map[string]config.Route
	destinations map[string]config.Route
	logger       *logging.Logger
}

// NewStaticNavigator builds a navigator over cfg. Lookups are
// case-insensitive.
func NewStaticNavigator(cfg config.NavigationConfig, logger *logging.Logger) *StaticNavigator {
	if logger == nil {
		logger = logging.Component("navigator")
	}
	return &StaticNavigator{
		facilities:   lowerKeys(cfg.Facilities),
		destinations: lowerKeys(cfg.Destinations),
		logger:       logger,
	}
}

// PlanPathToFacility returns the configured route to facility, or nil
// when none exists.
func (n *StaticNavigator) PlanPathToFacility(ctx context.Context, facility string) (*orchestrator.Path, error) {
	return n.plan(ctx, n.facilities, facility)
}

// PlanPath returns the route to destination. Destinations not in the
// table fall back to a facility of the same name.
func (n *StaticNavigator) PlanPath(ctx context.Context, destination string) (*orchestrator.Path, error) {
	key := strings.ToLower(strings.TrimSpace(destination))
	if _, ok := n.destinations[key]; ok {
		return n.plan(ctx, n.destinations, destination)
	}
	return n.plan(ctx, n.facilities, destination)
}

func (n *StaticNavigator) plan(ctx context.Context, table map[string]config.Route, name string) (*orchestrator.Path, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.ToLower(strings.TrimSpace(name))
	route, ok := table[key]
	if !ok {
		n.logger.DebugCtx("no route", map[string]any{"destination": name})
		return nil, nil
	}
	return &orchestrator.Path{
		Destination: name,
		Distance:    route.Distance,
		Direction:   route.Direction,
		Nodes:       append([]string(nil), route.Nodes...),
	}, nil
}

func lowerKeys(in map[string]config.Route) map[string]config.Route {
	out := make(map[string]config.Route, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
