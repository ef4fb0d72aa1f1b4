package main

import (
	"frbench/internal/report"
	"frbench/internal/survival"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type summarizeCommand struct {
	Args struct {
		Reports []string `positional-arg-name:"report" required:"1" description:"frb_report.json or the result directory holding it"`
	} `positional-args:"yes"`
}

func (c *summarizeCommand) Execute(_ []string) error {
	return runApp(fx.Invoke(c.run))
}

func (c *summarizeCommand) run(logger *zap.Logger, shutdowner fx.Shutdowner) error {
	reports := make([]*report.CampaignReport, 0, len(c.Args.Reports))
	for _, path := range c.Args.Reports {
		r, err := report.Load(path)
		if err != nil {
			return err
		}
		if n := r.UngroupedCount(); n > 0 {
			logger.Warn("report has crashes without a known bug",
				zap.String("report", path),
				zap.Int("ungrouped_crashes", n))
		}
		reports = append(reports, r)
	}
	if err := survival.WriteTable(os.Stdout, survival.SummarizeAll(reports)); err != nil {
		return err
	}
	if err := shutdowner.Shutdown(); err != nil {
		logger.Debug("shutdown already in progress", zap.Error(err))
	}
	return nil
}
