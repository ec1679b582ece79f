package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/darasa/internal/storage"
)

// InstrumentedAuditStore wraps a storage.AuditStore with metrics and tracing.
type InstrumentedAuditStore struct {
	inner   storage.AuditStore
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedAuditStore wraps an audit store with observability.
func NewInstrumentedAuditStore(inner storage.AuditStore, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedAuditStore {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedAuditStore{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedAuditStore) Append(ctx context.Context, event storage.RegistrationEvent) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "audit.append",
			trace.WithAttributes(
				attribute.String("audit.outcome", event.Outcome),
			))
		defer span.End()
	}

	err := s.inner.Append(ctx, event)

	if err != nil && s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.AuditWritesTotal.WithLabelValues(status).Inc()
	}

	return err
}

func (s *InstrumentedAuditStore) Recent(ctx context.Context, identityDigest string, limit int) ([]storage.RegistrationEvent, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "audit.recent")
		defer span.End()
	}
	return s.inner.Recent(ctx, identityDigest, limit)
}

func (s *InstrumentedAuditStore) Migrate(ctx context.Context) error { return s.inner.Migrate(ctx) }
func (s *InstrumentedAuditStore) Ping(ctx context.Context) error    { return s.inner.Ping(ctx) }
func (s *InstrumentedAuditStore) Close() error                      { return s.inner.Close() }
func (s *InstrumentedAuditStore) Driver() string                    { return s.inner.Driver() }

// compile-time interface check
var _ storage.AuditStore = (*InstrumentedAuditStore)(nil)
