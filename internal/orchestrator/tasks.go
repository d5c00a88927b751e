package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/retry"
)

// Task is the navigation currently guiding the user.
type Task struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Intent      string    `json:"intent"`
	Destination string    `json:"destination"`
	StartedAt   time.Time `json:"started_at"`
}

// CurrentTask returns the active task, if any.
func (o *Orchestrator) CurrentTask() (Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.task == nil {
		return Task{}, false
	}
	return *o.task, true
}

// beginNavigation starts a navigation task for path, superseding any
// current task. Navigation memory is written by the bus subscriber, or
// directly when no bus is configured.
func (o *Orchestrator) beginNavigation(ctx context.Context, c cycle, destination string, path *Path) {
	o.interruptTask(c.id, "superseded by new navigation")

	task := &Task{
		ID:          uuid.NewString(),
		Type:        "navigation",
		Description: "navigate to " + destination,
		Intent:      string(c.intent.Kind),
		Destination: destination,
		StartedAt:   o.now(),
	}
	o.mu.Lock()
	o.task = task
	o.mu.Unlock()

	o.publish(bus.TaskStarted{
		TaskID:      task.ID,
		Type:        task.Type,
		Description: task.Description,
		Intent:      task.Intent,
		Destination: destination,
	}, bus.WithCorrelationID(c.id))
	o.recordAction(ctx, Action{
		Type:          ActionNavigation,
		Intent:        task.Intent,
		CorrelationID: c.id,
		Data:          map[string]any{"destination": destination, "distance": path.Distance, "task_id": task.ID},
	})

	if o.bus == nil {
		o.saveNavigation(ctx, *path, destination)
		return
	}
	o.publish(bus.NavigationStarted{
		TaskID:      task.ID,
		Destination: destination,
		Distance:    path.Distance,
		Direction:   path.Direction,
		Route:       path.Nodes,
	}, bus.WithCorrelationID(c.id))
}

// interruptTask clears the current task and reports why.
func (o *Orchestrator) interruptTask(correlationID, reason string) {
	o.mu.Lock()
	task := o.task
	o.task = nil
	o.mu.Unlock()

	if task == nil {
		return
	}
	o.logger.InfoCtx("task interrupted", map[string]any{"task_id": task.ID, "reason": reason})
	o.publish(bus.TaskInterrupted{TaskID: task.ID, Reason: reason}, bus.WithCorrelationID(correlationID))
}

func (o *Orchestrator) onNavigationStarted(ctx context.Context, e bus.Event) error {
	p, ok := e.Payload.(bus.NavigationStarted)
	if !ok {
		return nil
	}
	path := Path{Destination: p.Destination, Distance: p.Distance, Direction: p.Direction, Nodes: p.Route}
	return o.saveNavigation(ctx, path, p.Destination)
}

func (o *Orchestrator) onNavigationCompleted(_ context.Context, e bus.Event) error {
	p, ok := e.Payload.(bus.NavigationCompleted)
	if !ok {
		return nil
	}

	o.mu.Lock()
	task := o.task
	if task != nil && (p.TaskID == "" || p.TaskID == task.ID) {
		o.task = nil
	} else {
		task = nil
	}
	o.mu.Unlock()

	if task == nil {
		return nil
	}
	o.logger.InfoCtx("task completed", map[string]any{"task_id": task.ID, "destination": task.Destination})
	o.publish(bus.TaskCompleted{TaskID: task.ID}, bus.WithCorrelationID(e.CorrelationID))
	return nil
}

func (o *Orchestrator) saveNavigation(ctx context.Context, path Path, destination string) error {
	if o.memory == nil {
		return nil
	}
	if err := o.memory.SaveNavigationMemory(ctx, &path, destination); err != nil {
		o.logger.ErrorCtx("saving navigation memory failed", map[string]any{"destination": destination, "error": err.Error()})
		o.queueRetry(retry.TypeMemory, navigationMemoryRetry{Path: path, Destination: destination},
			map[string]string{"operation": "save_navigation", "destination": destination})
		return err
	}
	o.publish(bus.MemorySaved{Operation: "save_navigation", Destination: destination})
	return nil
}

// Retry payloads.
type pathMemoryRetry struct {
	Scenes []Scene
}

type navigationMemoryRetry struct {
	Path        Path
	Destination string
}

var errUnknownRetryPayload = errors.New("unknown retry payload")

func (o *Orchestrator) registerRetryCallbacks() {
	if o.retry == nil {
		return
	}
	o.retry.Register(retry.TypeTTS, func(ctx context.Context, it retry.Item) error {
		text, ok := it.Payload.(string)
		if !ok {
			return errUnknownRetryPayload
		}
		if o.speaker == nil {
			return ErrNoSpeaker
		}
		return o.speaker.Speak(ctx, text)
	})
	o.retry.Register(retry.TypeMemory, func(ctx context.Context, it retry.Item) error {
		if o.memory == nil {
			return ErrNoMemory
		}
		switch p := it.Payload.(type) {
		case pathMemoryRetry:
			return o.memory.SavePathMemory(ctx, p.Scenes)
		case navigationMemoryRetry:
			return o.memory.SaveNavigationMemory(ctx, &p.Path, p.Destination)
		default:
			return errUnknownRetryPayload
		}
	})
}

func (o *Orchestrator) queueRetry(itemType string, payload any, metadata map[string]string) {
	if o.retry == nil {
		return
	}
	o.retry.Add(itemType, payload, retry.WithMetadata(metadata))
}
