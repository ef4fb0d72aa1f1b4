package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanAttributesMerge(t *testing.T) {
	base := NewSpanAttributes(CategoryFuzzing).WithFuzzer("fuzzware").WithTrial(2)
	other := NewSpanAttributes(CategoryReplay).
		WithFuzzer("dice").
		WithTarget("P2IM/CNC").
		WithExtraAttribute("frb.inputs", 12)

	base.Merge(other)
	attrs := base.Attributes()

	assert.Contains(t, attrs, attribute.String("frb.action.category", "replay"))
	assert.Contains(t, attrs, attribute.String("frb.fuzzer", "fuzzware"))
	assert.Contains(t, attrs, attribute.String("frb.target", "P2IM/CNC"))
	assert.Contains(t, attrs, attribute.Int("frb.trial", 2))
	assert.Contains(t, attrs, attribute.Int("frb.inputs", 12))
	assert.NotContains(t, attrs, attribute.String("frb.fuzzer", "dice"))
}

func TestFactoryWithoutTelemetry(t *testing.T) {
	f := NewTracerFactory(TracerFactoryParams{})
	tr := f.NewTracer(context.Background(), "trial")
	assert.IsType(t, &DummyTracer{}, tr)
	assert.Empty(t, tr.Export())
	assert.IsType(t, &DummyTracer{}, f.NewTracerSpawnedFrom(context.Background(), `{"traceparent":"x"}`, "analysis"))
}
