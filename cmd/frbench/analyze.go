package main

import (
	"context"
	"errors"
	"frbench/config"
	"frbench/internal/replay"
	"frbench/internal/report"
	"frbench/internal/survival"
	"frbench/internal/timeline"
	"frbench/internal/types"
	"frbench/pkg/database"
	"frbench/pkg/mq"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportQueue receives a types.ReportMessage for every report written.
const ReportQueue = "frb_reports"

type analyzeCommand struct {
	NoArchive  bool   `long:"no-archive" description:"keep the output directories of space-heavy fuzzers"`
	CampaignID string `long:"campaign-id" env:"FRB_CAMPAIGN_ID" description:"campaign the report belongs to"`
	Args       struct {
		ResultDir string `positional-arg-name:"result-dir" required:"true"`
	} `positional-args:"yes"`
}

func (c *analyzeCommand) Execute(_ []string) error {
	return runApp(
		fx.Provide(
			database.NewDBConnection, // inject gorm db, nil without DATABASE_URL
			mq.NewRabbitMQ,           // inject rabbitmq, nil without RABBITMQ_URL
			fx.Annotate(replay.NewExecRunner, fx.As(new(replay.Runner))),
			replay.NewAggregator,
			report.NewAnalyzer,
		),
		fx.Invoke(c.start),
	)
}

type analyzeParams struct {
	fx.In
	Lc         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Logger     *zap.Logger
	Config     *config.AppConfig
	Analyzer   *report.Analyzer
	DB         *gorm.DB
	MQ         mq.RabbitMQ
}

func (c *analyzeCommand) start(p analyzeParams) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				code := 0
				if err := c.analyze(runCtx, p); err != nil {
					var consistency *timeline.ConsistencyError
					if errors.As(err, &consistency) {
						p.Logger.Error("bug timeline is inconsistent, no report written",
							zap.String("bug_id", consistency.BugID), zap.Error(err))
					} else {
						p.Logger.Error("analysis failed", zap.Error(err))
					}
					code = 1
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					p.Logger.Debug("shutdown already in progress", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (c *analyzeCommand) analyze(ctx context.Context, p analyzeParams) error {
	analyzer := p.Analyzer
	if c.NoArchive {
		analyzer = analyzer.WithoutArchive()
	}
	res, err := analyzer.Run(ctx, c.Args.ResultDir)
	if err != nil {
		return err
	}
	rows := survival.Summarize(res.Report)
	if err := survival.WriteTable(os.Stdout, rows); err != nil {
		return err
	}

	if p.MQ != nil {
		msg := types.ReportMessage{
			CampaignID: c.CampaignID,
			Fuzzer:     res.Report.Fuzzer,
			Target:     res.Report.Target,
			ReportPath: res.Path,
			Runs:       len(res.Report.Campaign),
			Ungrouped:  res.Report.UngroupedCount(),
		}
		if err := mq.NewPublisher(p.MQ).PublishJSON(ctx, ReportQueue, msg); err != nil {
			// the report is on disk, a lost notification is not fatal
			p.Logger.Warn("failed to publish report message", zap.String("queue", ReportQueue), zap.Error(err))
		}
	}
	if p.DB != nil {
		medians := bugMedians(c.CampaignID, res.Path, res.Report, rows)
		if err := database.SaveBugMedians(ctx, p.DB, c.CampaignID, res.Path, medians); err != nil {
			return err
		}
		p.Logger.Info("stored bug medians", zap.Int("rows", len(medians)))
	}
	return nil
}

func bugMedians(campaignID, reportPath string, r *report.CampaignReport, rows []survival.Row) []*database.BugMedian {
	out := make([]*database.BugMedian, 0, len(rows))
	for _, row := range rows {
		m := database.NewBugMedian(campaignID, reportPath, row.Binary, row.Fuzzer, row.BugID,
			minutes(row.MedianReached), minutes(row.MedianTriggered), row.TriggerCount)
		m.NumTrials = r.NumTrials
		m.TrialTimeSeconds = r.TrialTime
		out = append(out, m)
	}
	return out
}

// minutes is nil for an infinite median.
func minutes(m survival.Median) *int {
	v, ok := m.Minutes()
	if !ok {
		return nil
	}
	n := int(v)
	return &n
}
