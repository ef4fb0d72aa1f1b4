package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"frbench/pkg/watchdog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const InboxKeyTmpl = "frbench:inbox:%s" // frbench:inbox:<campaign_id> --> set of JSON job groups

// SubmitFunc hands a job group over to the running campaign.
type SubmitFunc func(JobGroup) error

// LoadJobGroup reads a YAML job-group file.
func LoadJobGroup(path string) (JobGroup, error) {
	var g JobGroup
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("failed to read job group: %w", err)
	}
	if err := yaml.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("failed to parse job group %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("invalid job group %s: %w", path, err)
	}
	return g, nil
}

func isJobGroupFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

// DirInbox picks up job-group files dropped into a directory while the
// campaign runs. Write the file under another extension and rename it into
// place; processed files get a .done or .failed suffix.
type DirInbox struct {
	logger   *zap.Logger
	dir      string
	watchdog *watchdog.WatchDogFactory
}

func NewDirInbox(logger *zap.Logger, factory *watchdog.WatchDogFactory, dir string) *DirInbox {
	return &DirInbox{logger: logger.Named("inbox"), dir: dir, watchdog: factory}
}

// Run submits the files already present, then every new one until ctx ends.
func (d *DirInbox) Run(ctx context.Context, submit SubmitFunc) error {
	events := make(chan string, 16)
	wd, err := d.watchdog.New(ctx, events, isJobGroupFile)
	if err != nil {
		return err
	}
	if err := wd.AddDir(d.dir); err != nil {
		return err
	}

	existing, err := filepath.Glob(filepath.Join(d.dir, "*"))
	if err != nil {
		return err
	}
	sort.Strings(existing)
	for _, path := range existing {
		if isJobGroupFile(path) {
			d.handle(path, submit)
		}
	}

	d.logger.Info("watching inbox", zap.String("dir", d.dir))
	for path := range events {
		d.handle(path, submit)
	}
	return nil
}

func (d *DirInbox) handle(path string, submit SubmitFunc) {
	// a file created between AddDir and Glob is reported twice
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	logger := d.logger.With(zap.String("file", path))
	g, err := LoadJobGroup(path)
	if err == nil {
		err = submit(g)
	}
	suffix := ".done"
	if err != nil {
		logger.Error("failed to submit job group", zap.Error(err))
		suffix = ".failed"
	} else {
		logger.Info("job group submitted", zap.String("bench", g.Bench), zap.Strings("fuzzers", g.Fuzzers))
	}
	if err := os.Rename(path, path+suffix); err != nil {
		logger.Warn("failed to mark job group file", zap.Error(err))
	}
}

// RedisInbox polls a redis set for JSON encoded job groups. Members are removed
// once handled, whether they could be submitted or not.
type RedisInbox struct {
	logger   *zap.Logger
	client   *redis.Client
	key      string
	interval time.Duration
}

func NewRedisInbox(logger *zap.Logger, client *redis.Client, campaignID string, interval time.Duration) *RedisInbox {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RedisInbox{
		logger:   logger.Named("inbox"),
		client:   client,
		key:      fmt.Sprintf(InboxKeyTmpl, campaignID),
		interval: interval,
	}
}

func (r *RedisInbox) Key() string {
	return r.key
}

func (r *RedisInbox) Run(ctx context.Context, submit SubmitFunc) error {
	r.logger.Info("polling redis inbox", zap.String("key", r.key), zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Poll(ctx, submit); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to poll redis inbox", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll handles every job group currently in the set.
func (r *RedisInbox) Poll(ctx context.Context, submit SubmitFunc) error {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return err
	}
	sort.Strings(members)
	for _, member := range members {
		logger := r.logger.With(zap.String("key", r.key))
		var g JobGroup
		err := json.NewDecoder(strings.NewReader(member)).Decode(&g)
		if err == nil {
			err = g.Validate()
		}
		if err == nil {
			err = submit(g)
		}
		if err != nil {
			logger.Error("failed to submit job group", zap.String("member", member), zap.Error(err))
		} else {
			logger.Info("job group submitted", zap.String("bench", g.Bench), zap.Strings("fuzzers", g.Fuzzers))
		}
		if err := r.client.SRem(ctx, r.key, member).Err(); err != nil {
			logger.Error("failed to remove job group from redis", zap.Error(err))
		}
	}
	return nil
}
