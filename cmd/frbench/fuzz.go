package main

import (
	"context"
	"fmt"
	"frbench/config"
	"frbench/internal/campaign"
	"frbench/internal/driver"
	"frbench/internal/scheduler"
	"frbench/pkg/database"
	"frbench/pkg/watchdog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type fuzzCommand struct {
	Bench      string   `short:"b" long:"bench" required:"true" description:"benchmark directory under FRB_BASE_DIR, e.g. FirmBench"`
	Fuzzers    []string `short:"f" long:"fuzzer" required:"true" description:"fuzzer to run, repeatable"`
	Targets    []string `short:"t" long:"target" description:"suite/target to fuzz, repeatable; defaults to every target with a setup for one of the fuzzers"`
	Trials     int      `short:"n" long:"trials" default:"10" description:"trials per fuzzer and target"`
	Time       string   `long:"time" default:"24h" description:"fuzzing time per trial (24h, 3600m, 86400s)"`
	Output     string   `short:"o" long:"output" default:"fuzzing_results" description:"name of the result directory"`
	Full       bool     `long:"full" description:"analyze every group once its trials finished"`
	Driver     string   `long:"driver" choice:"docker" choice:"process" default:"docker" description:"how jobs are executed"`
	Inbox      string   `long:"inbox" description:"watch this directory for job-group files and keep running (overrides FRB_INBOX_DIR)"`
	CampaignID string   `long:"campaign-id" env:"FRB_CAMPAIGN_ID" description:"campaign id used for status keys and the redis inbox"`
}

func (c *fuzzCommand) Execute(_ []string) error {
	return runApp(
		fx.Provide(
			database.NewRedisClient,     // inject redis client, nil without REDIS_URL
			watchdog.NewWatchDogFactory, // inject inbox watcher
			newLayout,                   // inject benchmark layout
			c.newDriver,                 // inject execution driver
			c.settings,                  // inject campaign settings
			campaign.NewPlanner,         // inject job planner
			plannerHooks,                // inject scheduler hooks
			c.schedulerOptions,          // inject scheduler options
			newRegistry,                 // inject prometheus registry
			scheduler.New,               // inject scheduler
			asObserver(newLogObserver),
			asObserver(newRedisObserver),
			asObserver(newMetricsObserver),
		),
		fx.Invoke(c.start),
	)
}

func asObserver(f any) any {
	return fx.Annotate(f, fx.ResultTags(`group:"observers"`))
}

func newLayout(cfg *config.AppConfig) (campaign.Layout, error) {
	base, err := cfg.RequireBaseDir()
	if err != nil {
		return campaign.Layout{}, err
	}
	return campaign.NewLayout(base), nil
}

func (c *fuzzCommand) newDriver(log *zap.Logger) driver.Driver {
	if c.Driver == "process" {
		return driver.NewProcessDriver(log)
	}
	return driver.NewDockerDriver(log)
}

func (c *fuzzCommand) settings() campaign.Settings {
	return campaign.Settings{Full: c.Full, CampaignID: c.CampaignID}
}

func (c *fuzzCommand) inboxDir(cfg *config.AppConfig) string {
	if c.Inbox != "" {
		return c.Inbox
	}
	return cfg.SchedulerConfig.InboxDir
}

func (c *fuzzCommand) schedulerOptions(cfg *config.AppConfig) scheduler.Options {
	return scheduler.Options{Linger: c.inboxDir(cfg) != ""}
}

func plannerHooks(p *campaign.Planner) scheduler.Hooks {
	return p.Hooks()
}

func newLogObserver(log *zap.Logger) scheduler.Observer {
	return scheduler.NewLogObserver(log.Named("status"), time.Minute)
}

func newRedisObserver(client *redis.Client, p *campaign.Planner, log *zap.Logger) scheduler.Observer {
	if client == nil {
		return nil
	}
	return scheduler.NewRedisObserver(client, p.CampaignID(), log)
}

func newMetricsObserver(reg *prometheus.Registry) (scheduler.Observer, error) {
	return scheduler.NewMetricsObserver(reg)
}

type fuzzParams struct {
	fx.In
	Lc         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *zap.Logger
	Config     *config.AppConfig
	Layout     campaign.Layout
	Planner    *campaign.Planner
	Scheduler  *scheduler.Scheduler
	Watchdogs  *watchdog.WatchDogFactory
	Redis      *redis.Client
}

// group turns the flags into the initial job group. Without -t every target
// of the bench with a setup for one of the fuzzers is used.
func (c *fuzzCommand) group(layout campaign.Layout) (campaign.JobGroup, error) {
	g := campaign.JobGroup{
		Bench:       c.Bench,
		Fuzzers:     c.Fuzzers,
		Targets:     c.Targets,
		Trials:      c.Trials,
		FuzzingTime: c.Time,
		OutputName:  c.Output,
	}
	if len(g.Targets) == 0 {
		targets, err := layout.Discover(c.Bench, c.Fuzzers)
		if err != nil {
			return g, err
		}
		if len(targets) == 0 {
			return g, fmt.Errorf("no target of %s has a setup for %v", c.Bench, c.Fuzzers)
		}
		g.Targets = targets
	}
	if err := g.Validate(); err != nil {
		return g, err
	}
	return g, nil
}

func (c *fuzzCommand) start(p fuzzParams) error {
	g, err := c.group(p.Layout)
	if err != nil {
		return err
	}
	submit := p.Planner.Submitter(p.Scheduler)
	if err := submit(g); err != nil {
		return err
	}

	logger := p.Logger.With(zap.String("campaign", p.Planner.CampaignID()))
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if dir := c.inboxDir(p.Config); dir != "" {
				inbox := campaign.NewDirInbox(logger, p.Watchdogs, dir)
				go func() {
					if err := inbox.Run(runCtx, submit); err != nil {
						logger.Error("inbox stopped", zap.String("dir", dir), zap.Error(err))
					}
				}()
			}
			if p.Redis != nil {
				inbox := campaign.NewRedisInbox(logger, p.Redis, p.Planner.CampaignID(), p.Config.SchedulerConfig.InboxPoll)
				go func() {
					if err := inbox.Run(runCtx, submit); err != nil {
						logger.Error("redis inbox stopped", zap.String("key", inbox.Key()), zap.Error(err))
					}
				}()
			}

			go func() {
				defer close(done)
				logger.Info("campaign started", zap.Int("slots", p.Scheduler.Slots()), zap.Bool("full", c.Full))
				summary, err := p.Scheduler.Run(runCtx)
				cancel()
				code := logSummary(logger, summary, err)
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Debug("shutdown already in progress", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
			}
		},
	})
	return nil
}

// logSummary reports the end of a campaign and returns the process exit code.
func logSummary(logger *zap.Logger, summary *scheduler.Summary, err error) int {
	if err != nil {
		logger.Error("scheduler failed", zap.Error(err))
		return 1
	}
	for _, runErr := range summary.Errors {
		logger.Error("job did not end cleanly",
			zap.String("job_id", runErr.JobID),
			zap.String("job", runErr.Desc),
			zap.Int("exit_code", runErr.ExitCode),
			zap.Error(runErr.Err))
	}
	for _, group := range summary.Incomplete {
		logger.Warn("group has trials that never started and was not analyzed", zap.String("group", group.String()))
	}
	logger.Info("campaign finished",
		zap.Int("completed", summary.Completed),
		zap.Int("timed_out", summary.TimedOut),
		zap.Int("interrupted", summary.Interrupted),
		zap.Int("failed", summary.Failed),
		zap.Int("analyses", summary.Analyses),
		zap.Int("unstarted", summary.Unstarted),
		zap.Int("incomplete_groups", len(summary.Incomplete)),
		zap.Bool("stopped", summary.Stopped))
	if len(summary.Errors) > 0 || summary.Failed > 0 {
		return 1
	}
	return 0
}
