package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/intent"
	"github.com/lunabadge/luna/internal/retry"
)

// Spoken responses.
const (
	msgToiletRoute      = "请直行%s米，左转后有洗手间"
	msgToiletNotFound   = "抱歉，我没有找到附近的洗手间"
	msgElevatorRoute    = "请向%s前行%s米，左侧有电梯"
	msgElevatorNotFound = "抱歉，我没有找到附近的电梯"
	msgDestinationRoute = "正在为您导航到%s"
	msgDestinationNone  = "抱歉，我找不到%s"
	msgAskDestination   = "请告诉我您要去哪里"
	msgNavUnavailable   = "抱歉，导航服务暂时不可用"
	msgPathRemembered   = "路径已记录"
	msgMemoryFailed     = "抱歉，路径记忆失败"
	msgEnterDestination = "请输入您的目的地"
	msgCancelled        = "已取消当前任务"
	msgNotUnderstood    = "抱歉，我没有理解您的指令，请重试"
	msgSystemError      = "抱歉，系统出现问题，请稍后再试"

	defaultDirection = "左侧"
)

// VoiceInput is either already-recognized text or raw audio for the
// recognizer. Text wins when both are set.
type VoiceInput struct {
	Text  string
	Audio []byte
}

// cycle carries per-input context through the handlers.
type cycle struct {
	id     string
	text   string
	intent intent.Intent
}

// HandleVoiceInput runs one input cycle: recognize, classify, dispatch,
// then return to StateIdle regardless of outcome. Collaborator failures
// inside handlers are spoken as apologies and are not returned. A returned
// error means the cycle itself failed; it is also kept as LastError.
func (o *Orchestrator) HandleVoiceInput(ctx context.Context, in VoiceInput) (intent.Intent, error) {
	o.inputMu.Lock()
	defer o.inputMu.Unlock()

	c := cycle{id: uuid.NewString()}
	o.setState(StateListening)
	defer o.setState(StateIdle)

	text, err := o.recognize(ctx, in)
	if err != nil {
		o.failCycle(c, fmt.Errorf("recognizing speech: %w", err))
		return intent.Intent{Kind: intent.Unknown}, err
	}
	c.text = text
	o.logger.InfoCtx("voice input recognized", map[string]any{"text": text, "correlation_id": c.id})
	o.publish(bus.VoiceRecognized{Text: text, Confidence: 1}, bus.WithCorrelationID(c.id))

	c.intent = o.classifier.Classify(text)
	o.publish(bus.IntentParsed{
		Text:       text,
		Intent:     string(c.intent.Kind),
		Confidence: c.intent.Confidence,
		Keyword:    c.intent.Keyword,
	}, bus.WithCorrelationID(c.id))
	o.recordAction(ctx, Action{
		Type:          ActionVoiceIntent,
		Intent:        string(c.intent.Kind),
		Text:          text,
		CorrelationID: c.id,
		Data:          map[string]any{"confidence": c.intent.Confidence, "keyword": c.intent.Keyword},
	})

	if err := o.dispatch(ctx, c); err != nil {
		o.failCycle(c, err)
		return c.intent, err
	}

	o.setLastError(nil)
	o.emit(Event{Type: EventIntentHandled, Intent: string(c.intent.Kind), Text: text, CorrelationID: c.id})
	return c.intent, nil
}

func (o *Orchestrator) recognize(ctx context.Context, in VoiceInput) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panicked: %v", r)
		}
	}()
	if in.Text != "" {
		return in.Text, nil
	}
	if len(in.Audio) == 0 {
		return "", ErrEmptyInput
	}
	if o.recognizer == nil {
		return "", ErrNoRecognizer
	}
	return o.recognizer.Recognize(ctx, in.Audio)
}

// failCycle records an unrecovered failure. The deferred reset in
// HandleVoiceInput still moves the state back to idle.
func (o *Orchestrator) failCycle(c cycle, err error) {
	o.setState(StateError)
	o.setLastError(err)
	o.logger.ErrorCtx("voice input cycle failed", map[string]any{
		"intent":         string(c.intent.Kind),
		"text":           c.text,
		"correlation_id": c.id,
		"error":          err.Error(),
	})
	o.publish(bus.SystemError{Component: source, Message: err.Error()}, bus.WithCorrelationID(c.id))
	o.emit(Event{Type: EventError, Intent: string(c.intent.Kind), Text: c.text, CorrelationID: c.id, Error: err.Error()})
}

// dispatch routes to the intent handler, converting a panic into an error.
func (o *Orchestrator) dispatch(ctx context.Context, c cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", c.intent.Kind, r)
			o.speak(ctx, c.id, msgSystemError)
		}
	}()

	switch c.intent.Kind {
	case intent.FindToilet:
		o.handleFindToilet(ctx, c)
	case intent.FindElevator:
		o.handleFindElevator(ctx, c)
	case intent.FindDestination:
		o.handleFindDestination(ctx, c)
	case intent.RememberPath:
		o.handleRememberPath(ctx, c)
	case intent.StartNavigation:
		o.handleStartNavigation(ctx, c)
	case intent.Cancel:
		o.handleCancel(ctx, c)
	default:
		o.logger.WarnCtx("unknown intent", map[string]any{"text": c.text, "correlation_id": c.id})
		o.speak(ctx, c.id, msgNotUnderstood)
	}
	return nil
}

func (o *Orchestrator) handleFindToilet(ctx context.Context, c cycle) {
	o.setState(StateNavigating)
	path, ok := o.planFacility(ctx, c, "toilet")
	if !ok {
		return
	}
	if path == nil {
		o.speak(ctx, c.id, msgToiletNotFound)
		return
	}
	o.speak(ctx, c.id, fmt.Sprintf(msgToiletRoute, formatDistance(path.Distance)))
	o.beginNavigation(ctx, c, "toilet", path)
}

func (o *Orchestrator) handleFindElevator(ctx context.Context, c cycle) {
	o.setState(StateNavigating)
	path, ok := o.planFacility(ctx, c, "elevator")
	if !ok {
		return
	}
	if path == nil {
		o.speak(ctx, c.id, msgElevatorNotFound)
		return
	}
	direction := path.Direction
	if direction == "" {
		direction = defaultDirection
	}
	o.speak(ctx, c.id, fmt.Sprintf(msgElevatorRoute, direction, formatDistance(path.Distance)))
	o.beginNavigation(ctx, c, "elevator", path)
}

func (o *Orchestrator) handleFindDestination(ctx context.Context, c cycle) {
	destination := c.intent.Destination
	if destination == "" {
		o.speak(ctx, c.id, msgAskDestination)
		return
	}

	o.setState(StateNavigating)
	if o.navigator == nil {
		o.logger.WarnCtx("no navigator configured", map[string]any{"destination": destination})
		o.speak(ctx, c.id, msgNavUnavailable)
		return
	}

	path, err := o.navigator.PlanPath(ctx, destination)
	o.publish(bus.PathPlanned{Destination: destination, Found: err == nil && path != nil}, bus.WithCorrelationID(c.id))
	if err != nil {
		o.logger.ErrorCtx("path planning failed", map[string]any{
			"intent":      string(c.intent.Kind),
			"destination": destination,
			"error":       err.Error(),
		})
		o.speak(ctx, c.id, msgNavUnavailable)
		return
	}
	if path == nil {
		o.speak(ctx, c.id, fmt.Sprintf(msgDestinationNone, destination))
		return
	}
	o.speak(ctx, c.id, fmt.Sprintf(msgDestinationRoute, destination))
	o.beginNavigation(ctx, c, destination, path)
}

// planFacility reports ok=false when an apology has already been spoken.
func (o *Orchestrator) planFacility(ctx context.Context, c cycle, facility string) (*Path, bool) {
	if o.navigator == nil {
		o.logger.WarnCtx("no navigator configured", map[string]any{"facility": facility})
		o.speak(ctx, c.id, msgNavUnavailable)
		return nil, false
	}
	path, err := o.navigator.PlanPathToFacility(ctx, facility)
	o.publish(bus.PathPlanned{Destination: facility, Found: err == nil && path != nil}, bus.WithCorrelationID(c.id))
	if err != nil {
		o.logger.ErrorCtx("facility path planning failed", map[string]any{
			"intent":   string(c.intent.Kind),
			"facility": facility,
			"error":    err.Error(),
		})
		o.speak(ctx, c.id, msgNavUnavailable)
		return nil, false
	}
	return path, true
}

func (o *Orchestrator) handleRememberPath(ctx context.Context, c cycle) {
	o.setState(StateMemorizing)
	if o.memory == nil {
		o.logger.Warn("no memory manager configured")
		o.speak(ctx, c.id, msgMemoryFailed)
		return
	}

	var scenes []Scene
	if o.scenes != nil {
		recorded, err := o.scenes.RecordScenes(ctx)
		if err != nil {
			o.logger.ErrorCtx("recording scenes failed", map[string]any{"error": err.Error(), "correlation_id": c.id})
			o.speak(ctx, c.id, msgMemoryFailed)
			return
		}
		scenes = recorded
	}

	if err := o.memory.SavePathMemory(ctx, scenes); err != nil {
		o.logger.ErrorCtx("saving path memory failed", map[string]any{"scenes": len(scenes), "error": err.Error()})
		o.queueRetry(retry.TypeMemory, pathMemoryRetry{Scenes: scenes}, map[string]string{"operation": "save_path"})
		o.speak(ctx, c.id, msgMemoryFailed)
		return
	}

	o.publish(bus.MemorySaved{Operation: "save_path", Scenes: len(scenes)}, bus.WithCorrelationID(c.id))
	o.recordAction(ctx, Action{Type: ActionMemorySaved, CorrelationID: c.id, Data: map[string]any{"scenes": len(scenes)}})
	o.speak(ctx, c.id, msgPathRemembered)
}

func (o *Orchestrator) handleStartNavigation(ctx context.Context, c cycle) {
	o.setState(StateNavigating)
	o.speak(ctx, c.id, msgEnterDestination)
}

func (o *Orchestrator) handleCancel(ctx context.Context, c cycle) {
	o.interruptTask(c.id, "cancelled by user")
	o.setState(StateIdle)
	o.speak(ctx, c.id, msgCancelled)
}

// speak hands text to the speaker. Failures are logged, published, and
// queued for retry; they never reach the caller.
func (o *Orchestrator) speak(ctx context.Context, correlationID, text string) {
	if o.speaker == nil {
		o.logger.WarnCtx("no speaker configured, dropping speech", map[string]any{"text": text})
		return
	}

	if err := o.speaker.Speak(ctx, text); err != nil {
		o.logger.ErrorCtx("speech failed", map[string]any{"text": text, "error": err.Error(), "correlation_id": correlationID})
		o.publish(bus.TTSFailed{Text: text, Error: err.Error()}, bus.WithCorrelationID(correlationID))
		o.queueRetry(retry.TypeTTS, text, nil)
		return
	}

	o.logger.InfoCtx("spoke", map[string]any{"text": text, "correlation_id": correlationID})
	o.publish(bus.TTSCompleted{Text: text}, bus.WithCorrelationID(correlationID))
	o.recordAction(ctx, Action{Type: ActionSpeak, Text: text, CorrelationID: correlationID})
	o.emit(Event{Type: EventSpoken, Text: text, CorrelationID: correlationID})
}

func formatDistance(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}
