package replay

import (
	"context"
	"errors"
	"frbench/internal/timeline"
	"frbench/pkg/telemetry"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// fakeRunner answers from a table keyed by input path.
type fakeRunner struct {
	results  map[string]*Result
	errs     map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	mu       sync.Mutex
	seen     []string
}

func (f *fakeRunner) Replay(ctx context.Context, in Input, crash bool) (*Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, in.Path)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[in.Path]; err != nil {
		return nil, err
	}
	if res, ok := f.results[in.Path]; ok {
		return res, nil
	}
	return &Result{Elapsed: time.Millisecond}, nil
}

func newTestAggregator(r Runner, workers int) *Aggregator {
	return &Aggregator{runner: r, workers: workers, interval: 10 * time.Millisecond, logger: zap.NewNop()}
}

func TestAnalyzeMergesResults(t *testing.T) {
	runner := &fakeRunner{results: map[string]*Result{
		"c1": {Reached: []string{"A", "B"}, Triggered: []string{"B", "C"}, Elapsed: time.Second},
		"c2": {Reached: []string{"A"}, Elapsed: 3 * time.Second},
		"c3": {Reached: []string{"C"}, Triggered: []string{"C"}, Anomalous: true, Elapsed: 2 * time.Second},
	}}
	tl := timeline.New([]string{"A", "B", "C"})
	agg := newTestAggregator(runner, 2)

	stats, err := agg.Analyze(context.Background(), tl, []Input{
		{Path: "c1", Time: 42},
		{Path: "c2", Time: 10},
		{Path: "c3", Time: 1},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 1, stats.Anomalies)
	assert.Len(t, stats.Elapsed, 3)
	assert.Equal(t, 2.0, AverageSeconds(stats.Elapsed))

	a, _ := tl.Record("A")
	b, _ := tl.Record("B")
	c, _ := tl.Record("C")
	assert.Equal(t, int64(10), *a.Reached)
	assert.Equal(t, int64(42), *b.Triggered)
	assert.Equal(t, int64(42), *b.Detected)
	assert.Equal(t, []string{"c1"}, b.RawCrashData)
	assert.Nil(t, c.Reached, "anomalous replay must not be merged")
	assert.Nil(t, c.Triggered)
	assert.Equal(t, []string{"c1"}, tl.MultiBugsTriggered())
	assert.Equal(t, []string{"c2"}, tl.UngroupedCrashes())
}

func TestAnalyzeCountsFailures(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"bad": errors.New("exec format error")}}
	tl := timeline.New([]string{"A"})
	stats, err := newTestAggregator(runner, 1).Analyze(context.Background(), tl, []Input{{Path: "bad"}, {Path: "ok"}}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Completed)
}

func TestAnalyzeRespectsWorkerLimit(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	var inputs []Input
	for i := 0; i < 20; i++ {
		inputs = append(inputs, Input{Path: string(rune('a' + i))})
	}
	stats, err := newTestAggregator(runner, 3).Analyze(context.Background(), timeline.New(nil), inputs, false)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Completed)
	assert.LessOrEqual(t, runner.peak.Load(), int32(3))
}

func TestAnalyzeCancelled(t *testing.T) {
	runner := &fakeRunner{delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	inputs := []Input{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "d"}}

	stats, err := newTestAggregator(runner, 2).Analyze(ctx, timeline.New(nil), inputs, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.LessOrEqual(t, len(runner.seen), 3)
}

func TestAverageSeconds(t *testing.T) {
	assert.Zero(t, AverageSeconds(nil))
	assert.Equal(t, 0.33, AverageSeconds([]time.Duration{time.Second / 3}))
}

type recordingTelemetry struct {
	tracer trace.Tracer
}

func (r *recordingTelemetry) GetTracer() trace.Tracer { return r.tracer }
func (r *recordingTelemetry) GetLogger() log.Logger   { return nil }

func TestAnalyzeTracesAnomalies(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	runner := &fakeRunner{results: map[string]*Result{
		"c1": {Reached: []string{"A"}, Elapsed: time.Second},
		"c2": {Reached: []string{"A"}, Anomalous: true, Elapsed: time.Second},
	}}
	agg := newTestAggregator(runner, 1)
	agg.tracerFactory = telemetry.NewTracerFactory(telemetry.TracerFactoryParams{
		Telemetry: &recordingTelemetry{tracer: tp.Tracer("frbench")},
	})

	_, err := agg.Analyze(context.Background(), timeline.New([]string{"A"}), []Input{
		{Path: "c1", Time: 1},
		{Path: "c2", Time: 2},
	}, false)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "anomalous replay", span.Events()[0].Name)
	assert.Contains(t, span.Events()[0].Attributes, attribute.String("frb.replay.input", "c2"))
	assert.Contains(t, span.Attributes(), attribute.Int("frb.replay.completed", 2))
	assert.Contains(t, span.Attributes(), attribute.Int("frb.replay.anomalies", 1))
}
