package campaign

import (
	"fmt"
	"frbench/config"
	"frbench/internal/benchinfo"
	"frbench/internal/driver"
	"frbench/internal/scheduler"
	"frbench/internal/types"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultTrials      = 10
	DefaultFuzzingTime = "24h"
	DefaultOutputName  = "fuzzing_results"

	AnalyzerLogName = "frb_analyzer.log"
	benchMount      = "/benchmark"
)

// JobGroup is one campaign request: every fuzzer against every target, each
// pair repeated Trials times. Targets are given as "<suite>/<target>".
type JobGroup struct {
	Bench       string   `yaml:"bench" json:"bench"`
	Fuzzers     []string `yaml:"fuzzers" json:"fuzzers"`
	Targets     []string `yaml:"targets" json:"targets"`
	Trials      int      `yaml:"trials" json:"trials"`
	FuzzingTime string   `yaml:"fuzzing_time" json:"fuzzing_time"`
	OutputName  string   `yaml:"output_name" json:"output_name"`
}

func (g *JobGroup) withDefaults() {
	if g.Trials == 0 {
		g.Trials = DefaultTrials
	}
	if g.FuzzingTime == "" {
		g.FuzzingTime = DefaultFuzzingTime
	}
	if g.OutputName == "" {
		g.OutputName = DefaultOutputName
	}
}

// Validate fills defaults and checks the request is usable.
func (g *JobGroup) Validate() error {
	g.withDefaults()
	if g.Bench == "" {
		return fmt.Errorf("job group has no bench")
	}
	if len(g.Fuzzers) == 0 {
		return fmt.Errorf("job group has no fuzzers")
	}
	if len(g.Targets) == 0 {
		return fmt.Errorf("job group has no targets")
	}
	if g.Trials < 1 {
		return fmt.Errorf("invalid number of trials %d", g.Trials)
	}
	if strings.ContainsAny(g.OutputName, `/\`) || g.OutputName == "." || g.OutputName == ".." {
		return fmt.Errorf("invalid output name %q", g.OutputName)
	}
	for _, t := range g.Targets {
		if _, _, err := splitTarget(t); err != nil {
			return err
		}
	}
	_, err := ParseFuzzingTime(g.FuzzingTime)
	return err
}

func splitTarget(s string) (suite, target string, err error) {
	suite, target, ok := strings.Cut(s, "/")
	if !ok || suite == "" || target == "" || strings.Contains(target, "/") {
		return "", "", fmt.Errorf("invalid target %q: want <suite>/<target>", s)
	}
	return suite, target, nil
}

// Settings are the per-invocation switches of the fuzz command.
type Settings struct {
	// Full enables the analysis job once all trials of a group finished.
	Full       bool
	CampaignID string
}

// Planner expands job groups into scheduler jobs and supplies the hooks that
// keep the result directories in shape while they run.
type Planner struct {
	logger   *zap.Logger
	layout   Layout
	cfg      config.SchedulerConfig
	logLevel string
	settings Settings
	preparer *Preparer
	now      func() time.Time

	mu      sync.Mutex
	planned map[types.GroupKey]bool
}

type PlannerParams struct {
	fx.In
	Logger   *zap.Logger
	Config   *config.AppConfig
	Layout   Layout
	Settings Settings `optional:"true"`
}

func NewPlanner(p PlannerParams) *Planner {
	settings := p.Settings
	if settings.CampaignID == "" {
		settings.CampaignID = uuid.NewString()
	}
	return &Planner{
		logger:   p.Logger.Named("planner"),
		layout:   p.Layout,
		cfg:      p.Config.SchedulerConfig,
		logLevel: p.Config.LogLevel,
		settings: settings,
		preparer: NewPreparer(p.Logger, p.Layout),
		now:      time.Now,
		planned:  make(map[types.GroupKey]bool),
	}
}

func (p *Planner) CampaignID() string {
	return p.settings.CampaignID
}

// Plan returns the trial jobs of g ordered suite, fuzzer, target, trial.
// Suites keep the order in which they first appear in g.Targets. A group that
// shares a result directory with an earlier one is rejected.
func (p *Planner) Plan(g JobGroup) ([]*scheduler.Job, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	seconds, _ := ParseFuzzingTime(g.FuzzingTime)

	var suites []string
	bySuite := make(map[string][]string)
	for _, t := range g.Targets {
		suite, target, _ := splitTarget(t)
		if _, ok := bySuite[suite]; !ok {
			suites = append(suites, suite)
		}
		bySuite[suite] = append(bySuite[suite], target)
	}

	var jobs []*scheduler.Job
	for _, suite := range suites {
		for _, fuzzer := range g.Fuzzers {
			for _, target := range bySuite[suite] {
				for trial := range g.Trials {
					t := types.TrialTarget{
						Fuzzer:      fuzzer,
						Bench:       g.Bench,
						Suite:       suite,
						Target:      target,
						Trial:       trial,
						OutputName:  g.OutputName,
						FuzzingTime: seconds,
					}
					jobs = append(jobs, p.trialJob(t, g.Trials))
				}
			}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range jobs {
		if p.planned[job.Group] {
			return nil, fmt.Errorf("job group %s was already submitted", job.Group)
		}
	}
	for _, job := range jobs {
		p.planned[job.Group] = true
	}
	p.logger.Info("planned job group",
		zap.String("bench", g.Bench),
		zap.Strings("fuzzers", g.Fuzzers),
		zap.Int("targets", len(g.Targets)),
		zap.Int("trials", g.Trials),
		zap.Int("jobs", len(jobs)))
	return jobs, nil
}

func (p *Planner) trialJob(t types.TrialTarget, groupSize int) *scheduler.Job {
	resultDir := p.layout.ResultDir(t)
	mount := "/home/user/" + t.Fuzzer + "/target"
	return &scheduler.Job{
		ID:        uuid.NewString(),
		Kind:      scheduler.KindTrial,
		Target:    t,
		Group:     t.Group(),
		GroupSize: groupSize,
		ResultDir: resultDir,
		Timeout:   time.Duration(t.FuzzingTime)*time.Second + p.cfg.TrialGrace,
		Command: driver.Command{
			Name:    "frb_job",
			Image:   p.cfg.TrialImagePrefix + ":" + t.Fuzzer,
			Mounts:  []driver.Mount{{Source: resultDir, Target: mount}},
			WorkDir: mount,
			Args:    []string{"./" + t.Fuzzer + "-run.sh", strconv.Itoa(t.FuzzingTime), t.OutputDir()},
			Pin:     true,
		},
	}
}

// Submitter plans each job group and queues its trials on s.
func (p *Planner) Submitter(s *scheduler.Scheduler) SubmitFunc {
	return func(g JobGroup) error {
		jobs, err := p.Plan(g)
		if err != nil {
			return err
		}
		s.Submit(jobs...)
		return nil
	}
}

// AnalysisJob builds the job that replays and reports a finished group. It
// runs the analyzer image over the whole benchmark tree.
func (p *Planner) AnalysisJob(group types.GroupKey, resultDir string) *scheduler.Job {
	rel, err := filepath.Rel(p.layout.BaseDir, resultDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		p.logger.Warn("result directory outside of the base directory",
			zap.String("result_dir", resultDir), zap.String("base_dir", p.layout.BaseDir))
		rel = resultDir
	}
	workDir := filepath.ToSlash(filepath.Join(benchMount, rel))
	return &scheduler.Job{
		ID:        uuid.NewString(),
		Kind:      scheduler.KindAnalysis,
		Group:     group,
		ResultDir: resultDir,
		Target: types.TrialTarget{
			Fuzzer:     group.Fuzzer,
			Bench:      group.Bench,
			Suite:      group.Suite,
			Target:     group.Target,
			OutputName: group.OutputName,
		},
		Command: driver.Command{
			Name:    "frb_analyzer",
			Image:   p.cfg.AnalyzerImagePrefix + ":" + group.Fuzzer,
			Mounts:  []driver.Mount{{Source: p.layout.BaseDir, Target: benchMount}},
			WorkDir: workDir,
			Args:    []string{"frbench", "analyze", workDir},
			Env: []string{
				"FRB_CAMPAIGN_ID=" + p.settings.CampaignID,
				"LOG_LEVEL=" + p.logLevel,
			},
			LogPath: filepath.Join(resultDir, AnalyzerLogName),
		},
	}
}

// Hooks wires the planner into a scheduler.
func (p *Planner) Hooks() scheduler.Hooks {
	h := scheduler.Hooks{
		Prepare:     p.prepare,
		JobFinished: p.jobFinished,
	}
	if p.settings.Full {
		h.NewAnalysis = func(group types.GroupKey, last *scheduler.Job) *scheduler.Job {
			return p.AnalysisJob(group, last.ResultDir)
		}
	}
	return h
}

func (p *Planner) prepare(job *scheduler.Job) error {
	if job.Kind == scheduler.KindAnalysis {
		job.Command.LogHeader = analyzerLogHeader(job, p.now())
		return nil
	}
	return p.preparer.Prepare(job.Target, job.GroupSize, job.StartTime)
}

func (p *Planner) jobFinished(job *scheduler.Job) {
	if job.Kind != scheduler.KindTrial {
		return
	}
	switch job.State {
	case scheduler.StateCompleted, scheduler.StateTimedOut, scheduler.StateInterrupted:
	default:
		return
	}
	if err := benchinfo.Finish(job.ResultDir, job.EndTime, job.Elapsed(job.EndTime)); err != nil {
		p.logger.Warn("failed to update bench info", zap.String("job", job.Desc()), zap.Error(err))
	}
}

func analyzerLogHeader(job *scheduler.Job, now time.Time) string {
	rule := strings.Repeat("=", 80)
	g := job.Group
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "frbench Analyzer Job Log")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Job Description: analyzer:%s:%s/%s:%s:%s\n", g.Fuzzer, g.Bench, g.Suite, g.OutputName, g.Target)
	fmt.Fprintf(&b, "Fuzzer: %s\n", g.Fuzzer)
	fmt.Fprintf(&b, "Fuzzing Output Dir: %s\n", job.ResultDir)
	fmt.Fprintf(&b, "Container: %s\n", driver.SlotName(job.Command, job.Slot))
	fmt.Fprintf(&b, "Docker Image: %s\n", job.Command.Image)
	fmt.Fprintf(&b, "Start Time: %s\n", now.Format(time.DateTime))
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)
	return b.String()
}
