package campaign

import (
	"frbench/internal/types"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuzzingTime(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"24h", 86400},
		{"3600m", 216000},
		{"86400s", 86400},
		{" 2H ", 7200},
		{"0s", 0},
	}
	for _, tt := range tests {
		got, err := ParseFuzzingTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "24", "1d", "h", "-5m", "1.5h"} {
		_, err := ParseFuzzingTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/base")
	tt := types.TrialTarget{Fuzzer: "Fuzzware", Bench: "FirmBench", Suite: "01-targets", Target: "CNC", OutputName: "run1"}

	assert.Equal(t, "/base/FirmBench/01-targets/CNC", l.TargetDir(tt))
	assert.Equal(t, "/base/FirmBench/01-targets/CNC/fuzzers/Fuzzware", l.FuzzerDir(tt))
	assert.Equal(t, "/base/FirmBench/01-targets/CNC/fuzzers/Fuzzware/fuzzing_out/run1", l.ResultDir(tt))
	assert.Equal(t, "/base/FirmBench/01-targets/CNC/binary", l.BinaryDir(tt))
	assert.Equal(t, "/base/src/firmrebugger/fuzz/fuzzer_runners/Fuzzware-run.sh", l.RunnerScript("Fuzzware"))
	assert.Equal(t, "/base/FirmBench/01-targets/CNC/bug_descriptor.c", DescriptorPath(l.ResultDir(tt)))
}

func TestOutputDirs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"output-02", "output-01", "output-10", "seeds"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output-03"), nil, 0o644))

	dirs, err := OutputDirs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "output-01"),
		filepath.Join(dir, "output-02"),
		filepath.Join(dir, "output-10"),
	}, dirs)

	n, err := RunNumber(dirs[2])
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = RunNumber(filepath.Join(dir, "output-x"))
	assert.Error(t, err)

	_, err = OutputDirs(t.TempDir())
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	mk := func(parts ...string) {
		require.NoError(t, os.MkdirAll(filepath.Join(append([]string{base}, parts...)...), 0o755))
	}
	mk("Bench", "02-suite", "B", "fuzzers", "Ember-IO")
	mk("Bench", "01-suite", "A", "fuzzers", "Fuzzware")
	mk("Bench", "01-suite", "C", "fuzzers", "DICE")
	mk("Bench", "01-suite", "D", "binary")

	found, err := NewLayout(base).Discover("Bench", []string{"Fuzzware", "Ember-IO"})
	require.NoError(t, err)
	assert.Equal(t, []string{"01-suite/A", "02-suite/B"}, found)

	_, err = NewLayout(base).Discover("Missing", []string{"Fuzzware"})
	assert.Error(t, err)
}
