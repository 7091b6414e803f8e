package audit

import (
	"context"
	"log/slog"

	"reconcile/pkg/platform/circuit"
)

// BreakerSink tries primary for every event. Once the breaker opens, failed
// events go to fallback instead of surfacing an error.
type BreakerSink struct {
	primary  Sink
	fallback Sink
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewBreakerSink(primary, fallback Sink, breaker *circuit.Breaker, logger *slog.Logger) *BreakerSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerSink{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (s *BreakerSink) Append(ctx context.Context, event Event) error {
	err := s.primary.Append(ctx, event)
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "audit sink recovered", "breaker", s.breaker.Name())
		}
		return nil
	}

	useFallback, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.WarnContext(ctx, "audit sink circuit opened", "breaker", s.breaker.Name(), "error", err)
	}
	if !useFallback {
		return err
	}
	return s.fallback.Append(ctx, event)
}
