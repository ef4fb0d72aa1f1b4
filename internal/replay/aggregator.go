package replay

import (
	"context"
	"errors"
	"frbench/config"
	"frbench/internal/timeline"
	"frbench/pkg/telemetry"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stats summarizes one replay pass over a set of inputs.
type Stats struct {
	Total     int
	Completed int
	Anomalies int
	Failed    int
	Elapsed   []time.Duration // wall time of every finished replay
}

// Aggregator fans inputs out to a bounded pool of replays and merges the
// results into a timeline in completion order.
type Aggregator struct {
	runner        Runner
	workers       int
	interval      time.Duration
	logger        *zap.Logger
	tracerFactory *telemetry.TracerFactory
}

type AggregatorParams struct {
	fx.In
	Logger        *zap.Logger
	Config        *config.AppConfig
	Runner        Runner
	TracerFactory *telemetry.TracerFactory `optional:"true"`
}

func NewAggregator(p AggregatorParams) *Aggregator {
	return &Aggregator{
		runner:        p.Runner,
		workers:       p.Config.Workers(),
		interval:      p.Config.ReplayConfig.ProgressInterval,
		logger:        p.Logger,
		tracerFactory: p.TracerFactory,
	}
}

// With returns a copy whose log lines carry the given fields.
func (a *Aggregator) With(fields ...zap.Field) *Aggregator {
	c := *a
	c.logger = a.logger.With(fields...)
	return &c
}

// Analyze replays every input and merges the outcome into tl. Replays that
// fail to start are logged and counted. On cancellation no further replays
// are started; in-flight ones are waited for and ctx.Err() is returned.
func (a *Aggregator) Analyze(ctx context.Context, tl *timeline.Timeline, inputs []Input, crash bool) (*Stats, error) {
	tracer := a.tracerFactory.NewTracer(ctx, "replay pass")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.CategoryReplay).
		WithExtraAttribute("frb.replay.inputs", len(inputs)).
		WithExtraAttribute("frb.replay.crash", crash))
	tracer.Start()
	defer tracer.End()

	stats := &Stats{Total: len(inputs)}
	var mu sync.Mutex

	done := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		a.reportProgress(done, tl, stats, &mu, crash)
	}()

	g := new(errgroup.Group)
	g.SetLimit(max(1, a.workers))
	for _, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := a.runner.Replay(ctx, in, crash)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					stats.Failed++
					a.logger.Warn("replay failed", zap.String("input", in.Path), zap.Error(err))
				}
				return nil
			}
			stats.Elapsed = append(stats.Elapsed, res.Elapsed)
			stats.Completed++
			if res.Anomalous {
				stats.Anomalies++
				a.logger.Debug("skipping anomalous replay", zap.String("input", in.Path))
				tracer.AddEvent("anomalous replay", telemetry.NewEventAttributes(map[string]string{
					"frb.replay.input": in.Path,
				}))
				return nil
			}
			tl.Merge(timeline.Observation{
				Input:     in.Path,
				Time:      in.Time,
				Reached:   res.Reached,
				Triggered: res.Triggered,
			}, crash)
			return nil
		})
	}
	_ = g.Wait()
	close(done)
	progressWg.Wait()

	if err := ctx.Err(); err != nil {
		tracer.SetStatus(codes.Error, "replay pass interrupted")
		return stats, err
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttributes(map[string]any{
		"frb.replay.completed": stats.Completed,
		"frb.replay.anomalies": stats.Anomalies,
		"frb.replay.failed":    stats.Failed,
	}))
	return stats, nil
}

func (a *Aggregator) reportProgress(done <-chan struct{}, tl *timeline.Timeline, stats *Stats, mu *sync.Mutex, crash bool) {
	mode := "reached"
	if crash {
		mode = "crash"
	}
	log := func(final bool) {
		mu.Lock()
		completed, total, failed := stats.Completed, stats.Total, stats.Failed
		mu.Unlock()
		a.logger.Info("replay progress",
			zap.String("mode", mode),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("total", total),
			zap.Int("ungrouped_crashes", len(tl.UngroupedCrashes())),
			zap.Bool("final", final))
		for _, rec := range tl.Records() {
			a.logger.Debug(rec.String())
		}
	}

	if a.interval <= 0 {
		<-done
		log(true)
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log(true)
			return
		case <-ticker.C:
			log(false)
		}
	}
}

// AverageSeconds is the mean replay wall time, rounded to two decimals.
func AverageSeconds(elapsed []time.Duration) float64 {
	if len(elapsed) == 0 {
		return 0
	}
	var sum time.Duration
	for _, e := range elapsed {
		sum += e
	}
	avg := sum.Seconds() / float64(len(elapsed))
	return math.Round(avg*100) / 100
}
