package scheduler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports snapshots as prometheus gauges.
type MetricsObserver struct {
	slots    prometheus.Gauge
	running  *prometheus.GaugeVec
	queued   prometheus.Gauge
	finished *prometheus.GaugeVec
	errors   prometheus.Gauge
}

func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frbench", Subsystem: "scheduler", Name: "slots",
			Help: "Number of execution slots.",
		}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "frbench", Subsystem: "scheduler", Name: "running_jobs",
			Help: "Jobs currently running, by kind.",
		}, []string{"kind"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frbench", Subsystem: "scheduler", Name: "queued_jobs",
			Help: "Jobs waiting for a slot.",
		}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "frbench", Subsystem: "scheduler", Name: "finished_jobs",
			Help: "Jobs that left the running set, by final state.",
		}, []string{"state"}),
		errors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frbench", Subsystem: "scheduler", Name: "run_errors",
			Help: "Jobs that ended with an unexpected exit code or failed to start.",
		}),
	}
	for _, c := range []prometheus.Collector{o.slots, o.running, o.queued, o.finished, o.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *MetricsObserver) Observe(_ context.Context, snap Snapshot) {
	o.slots.Set(float64(snap.Slots))
	trials, analyses := 0, 0
	for _, j := range snap.Running {
		if j.Kind == KindAnalysis.String() {
			analyses++
		} else {
			trials++
		}
	}
	o.running.WithLabelValues(KindTrial.String()).Set(float64(trials))
	o.running.WithLabelValues(KindAnalysis.String()).Set(float64(analyses))
	o.queued.Set(float64(snap.Queued))
	o.finished.WithLabelValues(StateCompleted.String()).Set(float64(snap.Completed))
	o.finished.WithLabelValues(StateTimedOut.String()).Set(float64(snap.TimedOut))
	o.finished.WithLabelValues(StateInterrupted.String()).Set(float64(snap.Interrupted))
	o.finished.WithLabelValues(StateFailed.String()).Set(float64(snap.Failed))
	o.errors.Set(float64(snap.Errors))
}
