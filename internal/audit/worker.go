package audit

import (
	"context"
	"errors"
	"log/slog"
)

// ErrQueueFull is returned by AsyncPublisher.Emit when the inbox is saturated.
var ErrQueueFull = errors.New("audit queue full")

// AsyncPublisher decouples request latency from slow sinks such as Kafka.
// Emit never blocks; the Worker drains the inbox.
type AsyncPublisher struct {
	inbox chan Event
	next  *Publisher
}

func NewAsyncPublisher(next *Publisher, buffer int) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncPublisher{inbox: make(chan Event, buffer), next: next}
}

func (p *AsyncPublisher) Emit(_ context.Context, event Event) error {
	select {
	case p.inbox <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Worker returns the consumer of this publisher's inbox.
func (p *AsyncPublisher) Worker(logger *slog.Logger) *Worker {
	return NewWorker(p.next, p.inbox, logger)
}

// Worker consumes audit events from a channel and forwards them. A sink
// failure is logged and the worker keeps going.
type Worker struct {
	publisher *Publisher
	inbox     <-chan Event
	logger    *slog.Logger
}

func NewWorker(publisher *Publisher, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{publisher: publisher, inbox: inbox, logger: logger}
}

// Run drains the inbox until ctx is done, then flushes what is already queued.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case event := <-w.inbox:
			w.forward(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	flushCtx := context.Background()
	for {
		select {
		case event := <-w.inbox:
			w.forward(flushCtx, event)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, event Event) {
	if err := w.publisher.Emit(ctx, event); err != nil && w.logger != nil {
		w.logger.ErrorContext(ctx, "failed to forward audit event",
			"event_id", event.ID,
			"action", string(event.Action),
			"error", err,
		)
	}
}
