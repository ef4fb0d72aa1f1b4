package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const StatusKeyTmpl = "frbench:status:%s" // frbench:status:<campaign_id> --> Snapshot JSON

type JobView struct {
	ID      string        `json:"id"`
	Kind    string        `json:"kind"`
	Desc    string        `json:"desc"`
	Slot    int           `json:"slot"`
	Elapsed time.Duration `json:"elapsed"`
}

// Snapshot is the scheduler state published after every supervision tick.
type Snapshot struct {
	At          time.Time `json:"at"`
	Slots       int       `json:"slots"`
	Running     []JobView `json:"running"`
	Queued      int       `json:"queued"`
	Completed   int       `json:"completed"`
	TimedOut    int       `json:"timed_out"`
	Interrupted int       `json:"interrupted"`
	Failed      int       `json:"failed"`
	Errors      int       `json:"errors"`
	Analyses    int       `json:"analyses"`
}

type Observer interface {
	Observe(ctx context.Context, snap Snapshot)
}

func (s *Scheduler) snapshot() Snapshot {
	now := s.now()
	snap := Snapshot{
		At:          now,
		Slots:       s.slots,
		Running:     make([]JobView, 0, len(s.active)),
		Queued:      len(s.queue),
		Completed:   s.summary.Completed,
		TimedOut:    s.summary.TimedOut,
		Interrupted: s.summary.Interrupted,
		Failed:      s.summary.Failed,
		Errors:      len(s.summary.Errors),
		Analyses:    s.summary.Analyses,
	}
	for _, job := range s.sortedActive() {
		snap.Running = append(snap.Running, JobView{
			ID:      job.ID,
			Kind:    job.Kind.String(),
			Desc:    job.Desc(),
			Slot:    job.Slot,
			Elapsed: job.Elapsed(now).Truncate(time.Second),
		})
	}
	return snap
}

// LogObserver is the terminal progress view. It logs at most once per
// interval and always when the running set changed.
type LogObserver struct {
	logger   *zap.Logger
	interval time.Duration
	last     time.Time
	lastRun  string
}

func NewLogObserver(logger *zap.Logger, interval time.Duration) *LogObserver {
	return &LogObserver{logger: logger, interval: interval}
}

func (o *LogObserver) Observe(_ context.Context, snap Snapshot) {
	running := make([]string, 0, len(snap.Running))
	for _, j := range snap.Running {
		running = append(running, fmt.Sprintf("[%d] %s %s", j.Slot, j.Desc, j.Elapsed))
	}
	key := fmt.Sprint(len(running), snap.Queued)
	if key == o.lastRun && snap.At.Sub(o.last) < o.interval {
		return
	}
	o.last, o.lastRun = snap.At, key
	o.logger.Info("scheduler status",
		zap.Strings("running", running),
		zap.Int("queued", snap.Queued),
		zap.Int("completed", snap.Completed),
		zap.Int("timed_out", snap.TimedOut),
		zap.Int("errors", snap.Errors))
}

// RedisObserver mirrors snapshots into redis so other hosts can follow a
// campaign.
type RedisObserver struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisObserver(client *redis.Client, campaignID string, logger *zap.Logger) *RedisObserver {
	return &RedisObserver{
		client: client,
		key:    fmt.Sprintf(StatusKeyTmpl, campaignID),
		ttl:    24 * time.Hour,
		logger: logger,
	}
}

func (o *RedisObserver) Observe(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		o.logger.Error("failed to encode scheduler snapshot", zap.Error(err))
		return
	}
	if err := o.client.Set(ctx, o.key, payload, o.ttl).Err(); err != nil {
		o.logger.Warn("failed to publish scheduler snapshot", zap.String("key", o.key), zap.Error(err))
	}
}
