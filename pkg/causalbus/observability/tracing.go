package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the causalbus tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("causalbus")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span covering one publish, from
	// admission through relay fan-out.
	StartPublishSpan(ctx context.Context, channel, eventID string) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for handing one event to a
	// channel's subscribers.
	StartDeliverySpan(ctx context.Context, channel string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan starts a span for one publish.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, channel, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "causalbus.publish",
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartDeliverySpan starts a span for delivering to one channel.
func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, channel string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "causalbus.deliver."+channel,
		trace.WithAttributes(
			attribute.String("channel", channel),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
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

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
