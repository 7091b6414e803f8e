package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"reconcile/internal/audit"
	"reconcile/internal/contact/metrics"
	"reconcile/internal/contact/models"
	"reconcile/internal/contact/ports"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/sentinel"
	strs "reconcile/pkg/platform/strings"
	"reconcile/pkg/requestcontext"
)

const tracerName = "reconcile/internal/contact/service"

// Service resolves incoming (phone, email) pairs into consolidated identities.
// Every call runs as a single StoreTx transaction; audit events are published
// only after that transaction commits.
type Service struct {
	tx      ports.StoreTx
	locker  ports.KeyLocker
	audit   ports.AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker serializes overlapping callers ahead of the transaction.
func WithLocker(locker ports.KeyLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. Without WithAuditPublisher, committed events are
// written to the service logger.
func New(tx ports.StoreTx, opts ...Option) *Service {
	s := &Service{tx: tx}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.audit == nil {
		s.audit = audit.NewPublisher(audit.NewLogSink(s.logger))
	}
	return s
}

// Identify matches phone and email against stored contacts, merges clusters
// the input links together, records new information as a secondary, and
// returns the resulting consolidated identity.
//
// Surrounding whitespace is ignored and empty values count as absent; at least
// one of phone and email must remain.
func (s *Service) Identify(ctx context.Context, phone, email *string) (*models.ConsolidatedIdentity, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "contact.Identify")
	defer span.End()

	q := models.MatchQuery{PhoneNumber: strs.TrimToNil(phone), Email: strs.TrimToNil(email)}
	if q.IsEmpty() {
		err := dErrors.New(dErrors.CodeInvalidInput, "phoneNumber or email is required")
		s.fail(ctx, span, start, err)
		return nil, err
	}

	res, err := s.identify(ctx, q)
	if err != nil {
		s.fail(ctx, span, start, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("contact.matched", res.matched),
		attribute.Int("contact.merged", res.merged),
		attribute.Bool("contact.created", res.created),
	)
	s.publish(ctx, res.events)
	if s.metrics != nil {
		s.metrics.ObserveIdentify(res.outcome, start)
		s.metrics.AddMerges(res.merged)
	}
	s.logger.InfoContext(ctx, "contact identified",
		"primary_contact_id", res.identity.PrimaryContactID,
		"outcome", string(res.outcome),
		"merged", res.merged,
		"request_id", requestcontext.RequestID(ctx),
	)
	return res.identity, nil
}

func (s *Service) identify(ctx context.Context, q models.MatchQuery) (*resolution, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, q.Keys())
		if err != nil {
			return nil, s.translate(ctx, err)
		}
		defer unlock()
	}

	var res *resolution
	err := s.tx.RunInTx(ctx, func(store ports.ContactStore) error {
		// A fresh resolution per attempt: replayed transactions must not
		// carry events from an aborted run.
		r := newResolution(store, q, requestcontext.RequestID(ctx))
		if err := r.run(ctx); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, s.translate(ctx, err)
	}
	return res, nil
}

// translate maps store and lock failures onto domain codes. Already coded
// errors pass through untouched.
func (s *Service) translate(ctx context.Context, err error) error {
	if de, ok := dErrors.As(err); ok {
		if de.Code == dErrors.CodeInvariantViolation {
			s.logger.ErrorContext(ctx, "contact invariant violation",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "identify aborted: context cancelled")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "contact store unavailable")
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrInvalidState):
		return s.translate(ctx, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "contact cluster is inconsistent"))
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to identify contact")
	}
}

// publish forwards committed events. A failing publisher is logged and
// never fails the call.
func (s *Service) publish(ctx context.Context, events []audit.Event) {
	for _, event := range events {
		if err := s.audit.Emit(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish audit event",
				"action", string(event.Action),
				"contact_id", event.ContactID,
				"error", err,
			)
		}
	}
}

func (s *Service) fail(ctx context.Context, span trace.Span, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	if s.metrics != nil {
		s.metrics.ObserveIdentifyFailure(start)
	}
	if dErrors.CodeOf(err) == dErrors.CodeInvalidInput {
		return
	}
	s.logger.ErrorContext(ctx, "identify failed",
		"error", err,
		"code", string(dErrors.CodeOf(err)),
		"request_id", requestcontext.RequestID(ctx),
	)
}
