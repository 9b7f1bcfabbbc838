package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the automaton tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("automaton")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span covering one publish to settlement.
	StartPublishSpan(ctx context.Context, eventName, eventID string) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for one subscriber delivery.
	// The delivery span should be a child of the publish span.
	StartDeliverySpan(ctx context.Context, handlerID string) (context.Context, trace.Span)

	// StartJobSpan starts a span for one job run.
	StartJobSpan(ctx context.Context, job string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan starts a span covering one publish to settlement.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventName, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "automaton.publish",
		trace.WithAttributes(
			attribute.String("event.name", eventName),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDeliverySpan starts a span for one subscriber delivery.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, handlerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "automaton.delivery."+handlerID,
		trace.WithAttributes(
			attribute.String("handler.id", handlerID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartJobSpan starts a span for one job run.
func (m *otelSpanManager) StartJobSpan(ctx context.Context, job string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "automaton.job."+job,
		trace.WithAttributes(
			attribute.String("job.name", job),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
