package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher stamps events and hands them to a sink. It is append-only so
// tests can swap sinks easily.
type Publisher struct {
	sink Sink
}

func NewPublisher(sink Sink) *Publisher {
	return &Publisher{sink: sink}
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	return p.sink.Append(ctx, base)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit event",
		"event_id", event.ID,
		"action", string(event.Action),
		"contact_id", event.ContactID,
		"primary_id", event.PrimaryID,
		"former_primary_id", event.FormerPrimaryID,
		"request_id", event.RequestID,
		"reason", event.Reason,
	)
	return nil
}

// MemorySink keeps events in memory for tests and local runs.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) List() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...)
}
