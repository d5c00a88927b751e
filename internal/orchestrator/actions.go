package orchestrator

import (
	"context"
	"time"

	"github.com/lunabadge/luna/internal/journal"
)

// Action types recorded in the action log.
const (
	ActionVoiceIntent    = "voice_intent"
	ActionSpeak          = "tts_speak"
	ActionMemorySaved    = "memory_saved"
	ActionVisualFeedback = "visual_feedback"
	ActionNavigation     = "navigation_started"
)

// Action is one entry of the in-memory action log.
type Action struct {
	Time          time.Time      `json:"timestamp"`
	Type          string         `json:"action_type"`
	Intent        string         `json:"intent,omitempty"`
	Text          string         `json:"text,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// recordAction appends a to the bounded log, dropping the oldest entry
// when full, and mirrors it to the journal if one is configured.
func (o *Orchestrator) recordAction(ctx context.Context, a Action) {
	if a.Time.IsZero() {
		a.Time = o.now()
	}

	o.mu.Lock()
	if len(o.actions) >= o.config.ActionLogSize {
		n := len(o.actions) - o.config.ActionLogSize + 1
		o.actions = append(o.actions[:0], o.actions[n:]...)
	}
	o.actions = append(o.actions, a)
	o.mu.Unlock()

	if o.journal == nil {
		return
	}
	err := o.journal.Record(ctx, journal.Entry{
		Timestamp:     a.Time,
		Action:        a.Type,
		Intent:        a.Intent,
		Text:          a.Text,
		CorrelationID: a.CorrelationID,
		Data:          a.Data,
	})
	if err != nil {
		o.logger.WarnCtx("journal write failed", map[string]any{"action": a.Type, "error": err.Error()})
	}
}

// Actions returns up to the n most recent actions, oldest first. n <= 0
// returns the whole log.
func (o *Orchestrator) Actions(n int) []Action {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := 0
	if n > 0 && n < len(o.actions) {
		start = len(o.actions) - n
	}
	out := make([]Action, len(o.actions)-start)
	copy(out, o.actions[start:])
	return out
}
