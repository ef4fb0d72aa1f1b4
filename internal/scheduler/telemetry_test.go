package scheduler

import (
	"context"
	"frbench/pkg/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type recordingTelemetry struct {
	tracer trace.Tracer
}

func (r *recordingTelemetry) GetTracer() trace.Tracer { return r.tracer }
func (r *recordingTelemetry) GetLogger() log.Logger   { return nil }

func spansNamed(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func TestJobSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := &tracker{}
	s := newTestScheduler(&fakeDriver{}, 4, tr.hooks(true))
	s.tracerFactory = telemetry.NewTracerFactory(telemetry.TracerFactoryParams{
		Telemetry: &recordingTelemetry{tracer: tp.Tracer("frbench")},
	})
	hung := trial("CNC", 1, 2, "hang")
	hung.Timeout = 5 * time.Millisecond
	s.Submit(trial("CNC", 0, 2, "run", "1ms", "0"), hung)

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Analyses)

	spans := rec.Ended()
	trials := spansNamed(spans, "trial job")
	require.Len(t, trials, 2)

	var timeouts int
	for _, sp := range trials {
		for _, ev := range sp.Events() {
			if ev.Name == "timeout" {
				timeouts++
				assert.Contains(t, ev.Attributes, attribute.String("frb.timeout", "5ms"))
			}
		}
	}
	assert.Equal(t, 1, timeouts)

	analyses := spansNamed(spans, "analysis job")
	require.Len(t, analyses, 1)
	links := analyses[0].Links()
	require.Len(t, links, 2)
	var linked []trace.SpanID
	for _, l := range links {
		linked = append(linked, l.SpanContext.SpanID())
	}
	assert.ElementsMatch(t, []trace.SpanID{trials[0].SpanContext().SpanID(), trials[1].SpanContext().SpanID()}, linked)
}

func TestInterruptedJobSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := newTestScheduler(&fakeDriver{}, 3, Hooks{})
	s.tracerFactory = telemetry.NewTracerFactory(telemetry.TracerFactoryParams{
		Telemetry: &recordingTelemetry{tracer: tp.Tracer("frbench")},
	})
	s.Submit(trial("CNC", 0, 1, "hang"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sum, err := s.Run(ctx)
	require.NoError(t, err)
	require.True(t, sum.Stopped)

	trials := spansNamed(rec.Ended(), "trial job")
	require.Len(t, trials, 1)
	require.NotEmpty(t, trials[0].Events())
	assert.Equal(t, "interrupted", trials[0].Events()[0].Name)
}
