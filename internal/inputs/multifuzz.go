package inputs

import (
	"context"
	"fmt"
	"frbench/internal/replay"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// multiFuzzSource reads MultiFuzz's flat queue and crashes folders. Seeds are
// timed against the cmplog folder, created when the campaign starts.
type multiFuzzSource struct {
	logger *zap.Logger
	opts   Options
}

func (s *multiFuzzSource) Fuzzer() string { return "MultiFuzz" }

func (s *multiFuzzSource) Prepare(context.Context, string) error { return nil }

func (s *multiFuzzSource) Inputs(outputDir string, crash bool) ([]replay.Input, error) {
	seeds, err := listSeeds(filepath.Join(outputDir, folderName(crash)), func(string) bool { return true })
	if err != nil {
		return nil, err
	}
	cmplog, err := os.Stat(filepath.Join(outputDir, "cmplog"))
	if err != nil {
		return nil, fmt.Errorf("cannot time MultiFuzz inputs: %w", err)
	}
	start := cmplog.ModTime()

	bin := filepath.Join(s.opts.MultiFuzzBaseDir, "target", "release", "hail-fuzz")
	config := filepath.Join(outputDir, "..", "config.yml")
	build := func(seed string) replay.Input {
		return replay.Input{
			Args: []string{bin},
			Env:  []string{"REPLAY=" + seed, "TARGET_CONFIG=" + config},
		}
	}
	timeOf := func(seed string) (int64, error) {
		st, err := os.Stat(seed)
		if err != nil {
			return 0, err
		}
		return int64(st.ModTime().Sub(start).Seconds()), nil
	}
	return collect(s.logger, seeds, build, timeOf,
		"GHIDRA_SRC="+s.opts.GhidraSrc,
		replay.DescriptorEnv(s.opts.DescriptorPath)), nil
}
