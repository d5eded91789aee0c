package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/reconcilectl/pkg/diff"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops event delivery and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.Events.Shutdown()
	return t.Tracer.Shutdown(ctx)
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for run timers.
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry.
func WithRunContext(ctx context.Context, runID, mode string, reconcilers int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, mode)

	logger := tel.Logger.WithRunID(runID).WithField("mode", mode)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(mode)
	_ = tel.Events.PublishRunStarted(runID, mode, reconcilers)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())
	return spanCtx
}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID, mode string, summary diff.Summary, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(
			AttrAdded.Int(summary.Added),
			AttrDeleted.Int(summary.Deleted),
			AttrModified.Int(summary.Modified),
		)
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var timer *Timer
	if t, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		timer = t
	} else {
		timer = NewTimer()
	}
	duration := timer.Duration()

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	tel.Metrics.RecordRunCompleted(mode, status, duration)

	if err != nil {
		recordClassifiedError(tel.Metrics, err)
		_ = tel.Events.PublishRunFailed(runID, mode, err.Error())
		return
	}
	tel.Metrics.RecordDiffSummary(mode, summary)
	_ = tel.Events.PublishRunCompleted(runID, mode, duration, summary.Total())
}

// reconcilerSpanKey is the context key for reconciler spans.
type reconcilerSpanKey struct{}

// reconcilerTimerKey is the context key for reconciler timers.
type reconcilerTimerKey struct{}

// WithReconcilerContext creates a context enriched with reconciler-specific telemetry.
func WithReconcilerContext(ctx context.Context, runID, reconciler, mode string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartReconcilerSpan(ctx, reconciler, mode)

	logger := tel.Logger.WithRunID(runID).WithReconciler(reconciler, mode)
	spanCtx = logger.WithContext(spanCtx)

	_ = tel.Events.PublishReconcilerStarted(runID, reconciler, mode)

	spanCtx = context.WithValue(spanCtx, reconcilerSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, reconcilerTimerKey{}, NewTimer())
	return spanCtx
}

// EndReconcilerContext completes the reconciler context, recording metrics and events.
func EndReconcilerContext(ctx context.Context, runID, reconciler, mode string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(reconcilerSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(reconcilerTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	tel.Metrics.RecordReconcilerCall(reconciler, mode, status, duration)

	if err != nil {
		_ = tel.Events.PublishReconcilerFailed(runID, reconciler, mode, err.Error())
		return
	}
	_ = tel.Events.PublishReconcilerCompleted(runID, reconciler, mode, duration)
}

// classifiedError is implemented by errors that carry a retry class and code.
type classifiedError interface {
	error
	ErrorClass() string
	ErrorCode() string
}

func recordClassifiedError(m *Metrics, err error) {
	var ce classifiedError
	if errors.As(err, &ce) {
		m.RecordError(ce.ErrorClass(), ce.ErrorCode())
		return
	}
	m.RecordError("unclassified", "")
}
