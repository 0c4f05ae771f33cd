package notify

import (
	"context"
	"log/slog"
	"sync"
)

// LogSender writes events to a structured logger.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs every event.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, event *Event) error {
	attrs := []any{
		slog.String("connection", event.Connection),
	}

	if event.Team != "" {
		attrs = append(attrs, slog.String("team", event.Team))
	}

	if event.Webhook != "" {
		attrs = append(attrs, slog.String("webhook", event.Webhook))
	}

	if len(event.Events) > 0 {
		attrs = append(attrs, slog.Any("events", event.Events))
	}

	if !event.Success {
		s.logger.Warn(event.Type, append(attrs, slog.String("error", event.Error))...)
		return nil
	}

	s.logger.Info(event.Type, attrs...)

	return nil
}

// Recorder keeps every event it receives. Useful for tests and status output.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, *event)

	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)

	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}

	return out
}
