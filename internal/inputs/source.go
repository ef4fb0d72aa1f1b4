// Package inputs finds the recorded inputs of one fuzzer trial and tells the
// replay runner how to re-execute each of them. Every supported fuzzer keeps
// its corpus, crashes and timing information in a different shape.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"frbench/internal/replay"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var ErrUnsupportedFuzzer = errors.New("unsupported fuzzer")

// Source lists the replayable inputs of an output-NN directory.
type Source interface {
	Fuzzer() string
	// Prepare runs once per output directory before the replay passes.
	Prepare(ctx context.Context, outputDir string) error
	Inputs(outputDir string, crash bool) ([]replay.Input, error)
}

// Options carry the tool locations the replay commands need.
type Options struct {
	DescriptorPath   string
	EmberBaseDir     string
	MultiFuzzBaseDir string
	GhidraSrc        string
}

// ForFuzzer picks the input source for a fuzzer name as recorded in the bench
// info.
func ForFuzzer(logger *zap.Logger, fuzzer string, opts Options) (Source, error) {
	logger = logger.Named("inputs").With(zap.String("fuzzer", fuzzer))
	switch fuzzer {
	case "Fuzzware", "SplITS", "GDMA":
		return &fuzzwareSource{logger: logger, fuzzer: fuzzer, opts: opts}, nil
	case "Fuzzware-Icicle":
		if opts.GhidraSrc == "" {
			return nil, fmt.Errorf("GHIDRA_SRC is required for %s", fuzzer)
		}
		return &fuzzwareSource{logger: logger, fuzzer: fuzzer, opts: opts, icicle: true}, nil
	case "SEmu-Fuzz":
		return &aflSource{logger: logger, fuzzer: fuzzer, opts: opts, command: semuCommand, timing: nameTime}, nil
	case "Ember-IO", "Ember-IO-Fuzzing":
		if opts.EmberBaseDir == "" {
			return nil, fmt.Errorf("EMBER_BASE_DIR is required for %s", fuzzer)
		}
		return &aflSource{logger: logger, fuzzer: fuzzer, opts: opts, command: emberCommand, timing: nameTime}, nil
	case "DICE":
		return &aflSource{logger: logger, fuzzer: fuzzer, opts: opts, command: diceCommand, timing: statsTime}, nil
	case "MultiFuzz":
		if opts.GhidraSrc == "" {
			return nil, fmt.Errorf("GHIDRA_SRC is required for %s", fuzzer)
		}
		if opts.MultiFuzzBaseDir == "" {
			return nil, fmt.Errorf("MULTIFUZZ_BASE_DIR is required for %s", fuzzer)
		}
		return &multiFuzzSource{logger: logger, opts: opts}, nil
	case "Hoedur":
		return nil, fmt.Errorf("%w: %s stores its corpus as zstd archives", ErrUnsupportedFuzzer, fuzzer)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFuzzer, fuzzer)
}

// SpaceHeavy reports whether a fuzzer's output directories are archived after
// the report was written.
func SpaceHeavy(fuzzer string) bool {
	for _, f := range []string{"Fuzzware", "SplITS", "GDMA", "DICE"} {
		if strings.Contains(fuzzer, f) {
			return true
		}
	}
	return false
}

// listSeeds returns the sorted files of dir that pass keep.
func listSeeds(dir string, keep func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("input folder %s: %w", dir, err)
	}
	var seeds []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), "README") || !keep(e.Name()) {
			continue
		}
		seeds = append(seeds, filepath.Join(dir, e.Name()))
	}
	sort.Strings(seeds)
	return seeds, nil
}

func folderName(crash bool) string {
	if crash {
		return "crashes"
	}
	return "queue"
}
