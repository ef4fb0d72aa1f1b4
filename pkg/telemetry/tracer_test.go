package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTelemetryTracerRecordsEventsAndLinks(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer("frbench")

	first := NewTelemetryTracer(context.Background(), tracer, "trial")
	assert.False(t, first.SpanContext().IsValid())
	first.Start()
	first.End()

	second := NewTelemetryTracer(context.Background(), tracer, "analysis")
	second.AddLink(first.SpanContext())
	second.WithAttributes(EmptySpanAttributes().WithExtraAttributes(map[string]any{
		"frb.replay.completed": 4,
		"frb.replay.crash":     true,
	}))
	second.Start()
	second.AddEvent("anomalous replay", NewEventAttributes(map[string]string{"frb.replay.input": "id:000001"}))
	second.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	got := spans[1]
	require.Len(t, got.Links(), 1)
	assert.Equal(t, first.SpanContext().SpanID(), got.Links()[0].SpanContext.SpanID())
	assert.Contains(t, got.Attributes(), attribute.Int("frb.replay.completed", 4))
	assert.Contains(t, got.Attributes(), attribute.Bool("frb.replay.crash", true))
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "anomalous replay", got.Events()[0].Name)
	assert.Equal(t, []attribute.KeyValue{attribute.String("frb.replay.input", "id:000001")}, got.Events()[0].Attributes)
}
