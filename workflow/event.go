package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/bububa/nutrition-agents/components/observability"
)

// EventStatus of a step or run event
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventCancelled EventStatus = "cancelled"
)

// StepEvent progress notification. Run level events have an empty Step.
type StepEvent struct {
	RunID     string      `json:"run_id"`
	Seq       uint64      `json:"seq"`
	Step      string      `json:"step,omitempty"`
	Attempt   int         `json:"attempt,omitempty"`
	Status    EventStatus `json:"status"`
	Payload   any         `json:"payload,omitempty"`
	Err       error       `json:"-"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsRunEvent reports whether the event closes the run
func (e StepEvent) IsRunEvent() bool {
	return e.Step == ""
}

// Error message of Err, empty when nil
func (e StepEvent) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Observer receives run lifecycle callbacks synchronously, in event order.
// Implementations should be fast; they delay the run.
type Observer interface {
	OnEvent(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration)

func (f ObserverFunc) OnEvent(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration) {
	f(ctx, state, ev, duration)
}

// NoopObserver does nothing
type NoopObserver struct{}

func (NoopObserver) OnEvent(context.Context, *RunState, StepEvent, time.Duration) {}

// CompositeObserver fans out to several observers
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver forwards to every non nil observer in obs
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEvent(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration) {
	for _, o := range c.observers {
		o.OnEvent(ctx, state, ev, duration)
	}
}

// LoggingObserver writes events with log/slog
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver logs to logger, slog.Default() when nil
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("pipeline", state.Pipeline),
		slog.String("run_id", ev.RunID),
		slog.Uint64("seq", ev.Seq),
		slog.String("status", string(ev.Status)),
	}
	if !ev.IsRunEvent() {
		attrs = append(attrs, slog.String("step", ev.Step), slog.Int("attempt", ev.Attempt))
	}
	if duration > 0 {
		attrs = append(attrs, slog.Duration("duration", duration))
	}
	level := slog.LevelDebug
	switch ev.Status {
	case EventFailed:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", ev.Error()))
		if ev.IsRunEvent() {
			level = slog.LevelError
		}
	case EventCancelled:
		level = slog.LevelInfo
	case EventCompleted:
		if ev.IsRunEvent() {
			level = slog.LevelInfo
		}
	}
	msg := "step_" + string(ev.Status)
	if ev.IsRunEvent() {
		msg = "run_" + string(ev.Status)
	}
	o.Logger.LogAttrs(ctx, level, msg, attrs...)
}

// MetricsObserver records node durations and run outcomes
type MetricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver records into m
func NewMetricsObserver(m *observability.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, state *RunState, ev StepEvent, duration time.Duration) {
	if ev.Status == EventStarted {
		return
	}
	if ev.IsRunEvent() {
		o.metrics.RecordRun(ctx, state.Pipeline, string(ev.Status))
		return
	}
	o.metrics.RecordNode(ctx, state.Pipeline, ev.Step, string(ev.Status), duration)
}
