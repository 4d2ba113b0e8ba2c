package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest installs an in-memory exporter behind the global
// tracer provider.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	originalTracer := tracer
	tracer = otel.Tracer("causalbus")

	cleanup := func() {
		tracer = originalTracer
		otel.SetTracerProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}
	return exporter, cleanup
}

func TestStartPublishSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, span := sm.StartPublishSpan(context.Background(), "telemetry", "abc123")
	require.True(t, span.IsRecording())
	assert.NotNil(t, trace.SpanFromContext(ctx))

	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "causalbus.publish", spans[0].Name)
	assert.Equal(t, trace.SpanKindProducer, spans[0].SpanKind)
}

func TestStartDeliverySpanChild(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, parent := sm.StartPublishSpan(context.Background(), "telemetry", "abc123")
	_, child := sm.StartDeliverySpan(ctx, "telemetry")

	sm.EndSpanWithError(child, nil)
	sm.EndSpanWithError(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "causalbus.deliver.telemetry", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	_, span := sm.StartPublishSpan(context.Background(), "telemetry", "abc123")
	sm.EndSpanWithError(span, errors.New("quota exceeded"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestAddSpanEventOutsideSpan(t *testing.T) {
	_, cleanup := setupTracingTest(t)
	defer cleanup()

	// No span in context: must be a safe no-op.
	sm := NewSpanManager()
	sm.AddSpanEvent(context.Background(), "orphan")
}
