package report

import (
	"context"
	"errors"
	"frbench/config"
	"frbench/internal/benchinfo"
	"frbench/internal/inputs"
	"frbench/internal/replay"
	"frbench/internal/timeline"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedRunner struct {
	results map[string]replay.Result
}

func (r *scriptedRunner) Replay(_ context.Context, in replay.Input, _ bool) (*replay.Result, error) {
	res, ok := r.results[in.Path]
	if !ok {
		return &replay.Result{Elapsed: 100 * time.Millisecond}, nil
	}
	res.Elapsed = 100 * time.Millisecond
	return &res, nil
}

type fakeSource struct {
	mu       sync.Mutex
	prepared []string
	inputs   map[string][2][]replay.Input // output base name -> queue, crashes
}

func (s *fakeSource) Fuzzer() string { return "Fuzzware" }

func (s *fakeSource) Prepare(_ context.Context, outputDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepared = append(s.prepared, filepath.Base(outputDir))
	return nil
}

func (s *fakeSource) Inputs(outputDir string, crash bool) ([]replay.Input, error) {
	sets, ok := s.inputs[filepath.Base(outputDir)]
	if !ok {
		return nil, errors.New("no inputs")
	}
	if crash {
		return sets[1], nil
	}
	return sets[0], nil
}

// campaignDir lays out a finished two-trial campaign and returns its result
// directory.
func campaignDir(t *testing.T, fuzzer string) string {
	t.Helper()
	base := t.TempDir()
	targetDir := filepath.Join(base, "FirmBench", "01-targets", "CNC")
	resultDir := filepath.Join(targetDir, "fuzzers", fuzzer, "fuzzing_out", "results")
	for _, out := range []string{"output-01", "output-02"} {
		require.NoError(t, os.MkdirAll(filepath.Join(resultDir, out), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(resultDir, out, "data"), []byte(out), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "bug_descriptor.c"), []byte(`
void a() { report_detected_triggered("B1"); }
void b() { report_detected_triggered("B2"); }
`), 0o644))
	start := time.Unix(1700000000, 0)
	require.NoError(t, benchinfo.Init(resultDir, fuzzer, "/x/CNC.elf", 2, 3600, start))
	require.NoError(t, benchinfo.Finish(resultDir, start.Add(3600*time.Second), 3600*time.Second))
	return resultDir
}

func newTestAnalyzer(runner replay.Runner, src inputs.Source) *Analyzer {
	cfg := &config.AppConfig{CoreCount: 3}
	a := NewAnalyzer(AnalyzerParams{
		Logger: zap.NewNop(),
		Config: cfg,
		Aggregator: replay.NewAggregator(replay.AggregatorParams{
			Logger: zap.NewNop(),
			Config: cfg,
			Runner: runner,
		}),
	})
	a.sources = func(*zap.Logger, string, inputs.Options) (inputs.Source, error) { return src, nil }
	return a
}

func TestAnalyzerRun(t *testing.T) {
	resultDir := campaignDir(t, "Fuzzware")
	src := &fakeSource{inputs: map[string][2][]replay.Input{
		"output-01": {
			{{Path: "q/a", Time: 30}, {Path: "q/b", Time: 10}},
			{{Path: "c/a", Time: 50}, {Path: "c/unknown", Time: 60}},
		},
		"output-02": {
			{{Path: "q/c", Time: 100}},
			{},
		},
	}}
	runner := &scriptedRunner{results: map[string]replay.Result{
		"q/a": {Reached: []string{"B1", "B2"}},
		"q/b": {Reached: []string{"B1"}},
		"c/a": {Reached: []string{"B1"}, Triggered: []string{"B1"}},
		"q/c": {Reached: []string{"B2"}},
	}}

	res, err := newTestAnalyzer(runner, src).Run(context.Background(), resultDir)
	require.NoError(t, err)
	assert.True(t, res.Archived)
	assert.Equal(t, filepath.Join(resultDir, FileName), res.Path)
	assert.ElementsMatch(t, []string{"output-01", "output-02"}, src.prepared)

	rep, err := Load(resultDir)
	require.NoError(t, err)
	assert.Equal(t, "Fuzzware", rep.Fuzzer)
	assert.Equal(t, "CNC", rep.Target)
	assert.Equal(t, 2, rep.NumTrials)
	assert.Equal(t, 3600, rep.TrialTime)
	assert.Equal(t, []string{"run-1", "run-2"}, rep.Runs())
	assert.Equal(t, ExecutionTime{InputAverage: 0.1, Count: 5}, rep.ExecutionTime)

	b1, ok := rep.Campaign["run-1"].Record("B1")
	require.True(t, ok)
	assert.Equal(t, int64(10), *b1.Reached)
	assert.Equal(t, int64(50), *b1.Triggered)
	assert.Equal(t, int64(50), *b1.Detected)
	assert.Equal(t, []string{"c/a"}, b1.RawCrashData)
	assert.Equal(t, []string{"c/unknown"}, rep.Campaign["run-1"].UngroupedCrashes())

	b2, ok := rep.Campaign["run-2"].Record("B2")
	require.True(t, ok)
	assert.Equal(t, int64(100), *b2.Reached)
	assert.Nil(t, b2.Triggered)

	for _, out := range []string{"output-01", "output-02"} {
		assert.NoDirExists(t, filepath.Join(resultDir, out))
		assert.FileExists(t, filepath.Join(resultDir, out+".tar.gz"))
	}
}

func TestAnalyzerRestoresArchivedOutputs(t *testing.T) {
	resultDir := campaignDir(t, "Fuzzware")
	src := &fakeSource{inputs: map[string][2][]replay.Input{"output-01": {}, "output-02": {}}}
	a := newTestAnalyzer(&scriptedRunner{}, src)
	_, err := a.Run(context.Background(), resultDir)
	require.NoError(t, err)
	require.NoDirExists(t, filepath.Join(resultDir, "output-01"))

	res, err := a.WithoutArchive().Run(context.Background(), resultDir)
	require.NoError(t, err)
	assert.False(t, res.Archived)
	assert.Equal(t, []string{"run-1", "run-2"}, res.Report.Runs())
	data, err := os.ReadFile(filepath.Join(resultDir, "output-02", "data"))
	require.NoError(t, err)
	assert.Equal(t, "output-02", string(data))
}

func TestAnalyzerKeepsOutputsForLightFuzzers(t *testing.T) {
	resultDir := campaignDir(t, "SEmu-Fuzz")
	src := &fakeSource{inputs: map[string][2][]replay.Input{"output-01": {}, "output-02": {}}}
	res, err := newTestAnalyzer(&scriptedRunner{}, src).Run(context.Background(), resultDir)
	require.NoError(t, err)
	assert.False(t, res.Archived)
	assert.DirExists(t, filepath.Join(resultDir, "output-01"))
	assert.Equal(t, ExecutionTime{}, res.Report.ExecutionTime)
}

func TestAnalyzerConsistencyViolation(t *testing.T) {
	resultDir := campaignDir(t, "DICE")
	src := &fakeSource{inputs: map[string][2][]replay.Input{
		"output-01": {nil, {{Path: "c/x", Time: 5}}},
		"output-02": {},
	}}
	runner := &scriptedRunner{results: map[string]replay.Result{
		"c/x": {Triggered: []string{"B2"}},
	}}
	_, err := newTestAnalyzer(runner, src).Run(context.Background(), resultDir)
	var ce *timeline.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "B2", ce.BugID)
	assert.ErrorContains(t, err, "run-1")
	assert.Equal(t, []string{"output-01"}, src.prepared, "the pass stops at the first inconsistent run")
	assert.NoFileExists(t, filepath.Join(resultDir, FileName))
	assert.DirExists(t, filepath.Join(resultDir, "output-01"))
}

func TestAnalyzerConfigurationErrors(t *testing.T) {
	src := &fakeSource{inputs: map[string][2][]replay.Input{}}

	t.Run("missing descriptor", func(t *testing.T) {
		resultDir := campaignDir(t, "Fuzzware")
		require.NoError(t, os.Remove(filepath.Join(resultDir, "..", "..", "..", "..", "bug_descriptor.c")))
		_, err := newTestAnalyzer(&scriptedRunner{}, src).Run(context.Background(), resultDir)
		assert.Error(t, err)
	})
	t.Run("missing bench info", func(t *testing.T) {
		resultDir := campaignDir(t, "Fuzzware")
		require.NoError(t, os.Remove(benchinfo.Path(resultDir)))
		_, err := newTestAnalyzer(&scriptedRunner{}, src).Run(context.Background(), resultDir)
		assert.Error(t, err)
	})
	t.Run("no output directories", func(t *testing.T) {
		resultDir := campaignDir(t, "Fuzzware")
		require.NoError(t, os.RemoveAll(filepath.Join(resultDir, "output-01")))
		require.NoError(t, os.RemoveAll(filepath.Join(resultDir, "output-02")))
		_, err := newTestAnalyzer(&scriptedRunner{}, src).Run(context.Background(), resultDir)
		assert.Error(t, err)
	})
	t.Run("unsupported fuzzer", func(t *testing.T) {
		resultDir := campaignDir(t, "Hoedur")
		a := newTestAnalyzer(&scriptedRunner{}, src)
		a.sources = inputs.ForFuzzer
		_, err := a.Run(context.Background(), resultDir)
		assert.ErrorIs(t, err, inputs.ErrUnsupportedFuzzer)
	})
}
