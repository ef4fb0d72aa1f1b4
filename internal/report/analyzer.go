package report

import (
	"context"
	"fmt"
	"frbench/config"
	"frbench/internal/benchinfo"
	"frbench/internal/campaign"
	"frbench/internal/descriptor"
	"frbench/internal/inputs"
	"frbench/internal/replay"
	"frbench/internal/timeline"
	"frbench/internal/utils"
	"frbench/pkg/telemetry"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceFunc resolves the input source for a fuzzer.
type SourceFunc func(logger *zap.Logger, fuzzer string, opts inputs.Options) (inputs.Source, error)

// Analyzer replays every trial of a finished campaign and writes its report.
type Analyzer struct {
	logger        *zap.Logger
	aggregator    *replay.Aggregator
	cfg           config.ReplayConfig
	tracerFactory *telemetry.TracerFactory
	sources       SourceFunc
	archive       bool
}

type AnalyzerParams struct {
	fx.In
	Logger        *zap.Logger
	Config        *config.AppConfig
	Aggregator    *replay.Aggregator
	TracerFactory *telemetry.TracerFactory `optional:"true"`
}

func NewAnalyzer(p AnalyzerParams) *Analyzer {
	return &Analyzer{
		logger:        p.Logger.Named("analyzer"),
		aggregator:    p.Aggregator,
		cfg:           p.Config.ReplayConfig,
		tracerFactory: p.TracerFactory,
		sources:       inputs.ForFuzzer,
		archive:       true,
	}
}

// WithoutArchive keeps the output directories of space-heavy fuzzers in place.
func (a *Analyzer) WithoutArchive() *Analyzer {
	c := *a
	c.archive = false
	return &c
}

// Result is what one analysis produced.
type Result struct {
	Report   *CampaignReport
	Path     string
	Archived bool
}

// Run analyzes the result directory of one campaign: every output-NN directory
// is replayed twice, first its corpus then its crashes, and the merged
// timelines are written to frb_report.json. Every configuration problem is
// reported before the first replay starts.
func (a *Analyzer) Run(ctx context.Context, resultDir string) (*Result, error) {
	resultDir, err := filepath.Abs(resultDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve result directory: %w", err)
	}
	descriptorPath := filepath.Clean(campaign.DescriptorPath(resultDir))
	bugIDs, err := descriptor.ParseFile(descriptorPath)
	if err != nil {
		return nil, fmt.Errorf("descriptor file not found or unreadable: %w", err)
	}
	info, err := benchinfo.Read(resultDir)
	if err != nil {
		return nil, err
	}
	if err := a.restoreOutputs(resultDir); err != nil {
		return nil, err
	}
	outputs, err := campaign.OutputDirs(resultDir)
	if err != nil {
		return nil, err
	}
	runs := make([]string, len(outputs))
	for i, out := range outputs {
		n, err := campaign.RunNumber(out)
		if err != nil {
			return nil, err
		}
		runs[i] = RunName(n)
	}
	source, err := a.sources(a.logger, info.Fuzzer, inputs.Options{
		DescriptorPath:   descriptorPath,
		EmberBaseDir:     a.cfg.EmberBaseDir,
		MultiFuzzBaseDir: a.cfg.MultiFuzzBaseDir,
		GhidraSrc:        a.cfg.GhidraSrc,
	})
	if err != nil {
		return nil, err
	}

	logger := a.logger.With(zap.String("fuzzer", info.Fuzzer), zap.String("target", info.Target))
	logger.Info("starting bug analysis",
		zap.String("result_dir", resultDir),
		zap.Int("trials", info.NumTrials),
		zap.Int("trial_time", info.TotalTime),
		zap.Int("runs", len(outputs)),
		zap.Int("known_bugs", len(bugIDs)))

	tracer := a.tracerFactory.NewTracerSpawnedFrom(ctx, os.Getenv(telemetry.TraceContextEnv), "bug analysis")
	tracer.WithAttributes(telemetry.NewSpanAttributes(telemetry.CategoryAnalysis).
		WithFuzzer(info.Fuzzer).
		WithTarget(info.Target).
		WithExtraAttribute("frb.analysis.runs", len(outputs)))
	tracer.Start()
	defer tracer.End()

	rep := &CampaignReport{
		Fuzzer:    info.Fuzzer,
		Target:    info.Target,
		NumTrials: info.NumTrials,
		TrialTime: info.TotalTime,
		Campaign:  make(map[string]*timeline.Timeline, len(outputs)),
	}
	var elapsed []time.Duration
	for i, out := range outputs {
		tl := timeline.New(bugIDs)
		rep.Campaign[runs[i]] = tl
		runElapsed, err := a.analyzeRun(ctx, logger, source, tl, runs[i], out)
		elapsed = append(elapsed, runElapsed...)
		if err != nil {
			tracer.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%s: %w", runs[i], err)
		}
		for _, rec := range tl.Records() {
			logger.Info(rec.String(), zap.String("run", runs[i]))
		}
	}
	rep.ExecutionTime = ExecutionTime{
		InputAverage: replay.AverageSeconds(elapsed),
		Count:        len(elapsed),
	}

	if err := rep.Validate(); err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	path := filepath.Join(resultDir, FileName)
	if err := rep.Save(path); err != nil {
		return nil, err
	}
	logger.Info("report written",
		zap.String("path", path),
		zap.Int("replays", len(elapsed)),
		zap.Float64("input_average", rep.ExecutionTime.InputAverage))
	if n := rep.UngroupedCount(); n > 0 {
		logger.Warn("crashing inputs did not trigger any known bug, inspect ungrouped_crashes in the report",
			zap.Int("ungrouped_crashes", n))
	}

	res := &Result{Report: rep, Path: path}
	if a.archive && inputs.SpaceHeavy(info.Fuzzer) {
		res.Archived = a.archiveOutputs(ctx, logger, outputs)
	}
	tracer.SetStatus(codes.Ok, "report written")
	return res, nil
}

func (a *Analyzer) analyzeRun(ctx context.Context, logger *zap.Logger, source inputs.Source, tl *timeline.Timeline, run, outputDir string) ([]time.Duration, error) {
	logger = logger.With(zap.String("run", run))
	if err := source.Prepare(ctx, outputDir); err != nil {
		return nil, err
	}
	var elapsed []time.Duration
	for _, crash := range []bool{false, true} {
		ins, err := source.Inputs(outputDir, crash)
		if err != nil {
			return elapsed, err
		}
		stats, err := a.aggregator.With(zap.String("run", run), zap.Bool("crash", crash)).Analyze(ctx, tl, ins, crash)
		if stats != nil {
			elapsed = append(elapsed, stats.Elapsed...)
		}
		if err != nil {
			return elapsed, err
		}
		logger.Info("replay pass finished",
			zap.Bool("crash", crash),
			zap.Int("inputs", stats.Total),
			zap.Int("completed", stats.Completed),
			zap.Int("anomalies", stats.Anomalies),
			zap.Int("failed", stats.Failed))
		if err := tl.Validate(); err != nil {
			return elapsed, err
		}
	}
	return elapsed, nil
}

// archiveOutputs packs every output directory next to itself and removes the
// directories only when every archive was written.
func (a *Analyzer) archiveOutputs(ctx context.Context, logger *zap.Logger, outputs []string) bool {
	logger.Info("archiving output directories", zap.Int("count", len(outputs)))
	g, gctx := errgroup.WithContext(ctx)
	for _, out := range outputs {
		g.Go(func() error {
			archive := out + ".tar.gz"
			if err := utils.ArchiveDir(gctx, out, archive); err != nil {
				return fmt.Errorf("%s: %w", out, err)
			}
			if !utils.IsTarGz(archive) {
				return fmt.Errorf("%s: archive %s is not gzip data", out, archive)
			}
			if st, err := os.Stat(archive); err == nil {
				logger.Debug("archive created", zap.String("archive", archive), zap.String("size", humanize.Bytes(uint64(st.Size()))))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("not all output directories were archived, keeping them", zap.Error(err))
		return false
	}
	for _, out := range outputs {
		if err := os.RemoveAll(out); err != nil {
			logger.Error("failed to remove archived directory", zap.String("dir", out), zap.Error(err))
			return false
		}
	}
	return true
}

// restoreOutputs unpacks output-NN.tar.gz archives left by an earlier analysis
// whose directories are gone, so a campaign can be analyzed again.
func (a *Analyzer) restoreOutputs(resultDir string) error {
	archives, err := filepath.Glob(filepath.Join(resultDir, "output-*.tar.gz"))
	if err != nil {
		return err
	}
	for _, archive := range archives {
		dir := strings.TrimSuffix(archive, ".tar.gz")
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if !utils.IsTarGz(archive) {
			a.logger.Warn("skipping archive that is not gzip data", zap.String("archive", archive))
			continue
		}
		if err := utils.UnpackTarGz(archive, resultDir); err != nil {
			return fmt.Errorf("failed to restore %s: %w", filepath.Base(dir), err)
		}
		a.logger.Info("restored archived output directory", zap.String("dir", dir))
	}
	return nil
}
