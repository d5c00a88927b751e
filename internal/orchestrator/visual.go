package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/intent"
)

// feedbackItem is speech queued for the feedback loop.
type feedbackItem struct {
	signal intent.Signal
	text   string
}

// HandleVisualEvent maps a detection to a visual signal and queues the
// matching feedback. It never blocks on speech. A detection without class
// labels is ignored and returns "".
func (o *Orchestrator) HandleVisualEvent(ctx context.Context, d Detection) intent.Signal {
	if len(d.Classes) == 0 {
		return ""
	}
	signal := o.visual.Match(d.Classes)

	if o.bus == nil {
		o.enqueueFeedback(signal)
		return signal
	}
	o.publish(bus.VisualDetection{
		Signal:     string(signal),
		Classes:    d.Classes,
		Confidence: d.Confidence,
	}, bus.WithPriority(bus.PriorityHigh))
	return signal
}

func (o *Orchestrator) onVisualDetection(_ context.Context, e bus.Event) error {
	p, ok := e.Payload.(bus.VisualDetection)
	if !ok {
		return nil
	}
	o.enqueueFeedback(intent.Signal(p.Signal))
	return nil
}

func (o *Orchestrator) onTTSBroadcast(_ context.Context, e bus.Event) error {
	p, ok := e.Payload.(bus.TTSBroadcast)
	if !ok || p.Text == "" {
		return nil
	}
	o.enqueue(feedbackItem{text: p.Text})
	return nil
}

// enqueueFeedback queues the configured text for signal. Signals with no
// text, like SignalSafe, are silent.
func (o *Orchestrator) enqueueFeedback(signal intent.Signal) {
	text := o.config.Feedback[signal]
	if text == "" {
		return
	}
	o.enqueue(feedbackItem{signal: signal, text: text})
}

func (o *Orchestrator) enqueue(item feedbackItem) {
	select {
	case o.feedback <- item:
	default:
		o.logger.WarnCtx("feedback queue full, dropping", map[string]any{"signal": string(item.signal), "text": item.text})
	}
}

func (o *Orchestrator) feedbackLoop(ctx context.Context, stop <-chan struct{}) {
	defer o.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case item := <-o.feedback:
			o.deliverFeedback(ctx, item)
		}
	}
}

func (o *Orchestrator) deliverFeedback(ctx context.Context, item feedbackItem) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorCtx("feedback delivery panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	o.speak(ctx, "", item.text)
	if item.signal == "" {
		return
	}
	o.recordAction(ctx, Action{
		Type: ActionVisualFeedback,
		Text: item.text,
		Data: map[string]any{"signal": string(item.signal)},
	})
	o.emit(Event{Type: EventVisualFeedback, Text: item.text})
}

func (o *Orchestrator) visionLoop(ctx context.Context, stop <-chan struct{}) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.config.VisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollVision(ctx)
		}
	}
}

func (o *Orchestrator) pollVision(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorCtx("vision engine panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	detections, err := o.vision.Detect(ctx)
	if err != nil {
		o.logger.WarnCtx("vision detection failed", map[string]any{"error": err.Error()})
		return
	}
	for _, d := range detections {
		o.HandleVisualEvent(ctx, d)
	}
}
