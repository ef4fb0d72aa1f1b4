package inputs

import (
	"bufio"
	"context"
	"fmt"
	"frbench/internal/replay"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// fuzzwareSource covers Fuzzware and the tools built on its project layout.
// Timings come from the files "fuzzware genstats crashtimings" writes.
type fuzzwareSource struct {
	logger *zap.Logger
	fuzzer string
	opts   Options
	icicle bool
}

func (s *fuzzwareSource) Fuzzer() string { return s.fuzzer }

func (s *fuzzwareSource) Prepare(ctx context.Context, outputDir string) error {
	if s.icicle {
		if err := commentMainConfigs(outputDir); err != nil {
			return err
		}
	}
	cmd := exec.CommandContext(ctx, "fuzzware", "genstats", "crashtimings", "-p", outputDir)
	cmd.Env = append(os.Environ(), s.env()...)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Debug("genstats output", zap.ByteString("output", out))
		return fmt.Errorf("fuzzware genstats failed for %s: %w", outputDir, err)
	}
	return nil
}

func (s *fuzzwareSource) env() []string {
	env := []string{replay.DescriptorEnv(s.opts.DescriptorPath)}
	if s.opts.GhidraSrc != "" {
		env = append(env, "GHIDRA_SRC="+s.opts.GhidraSrc)
	}
	return env
}

func (s *fuzzwareSource) Inputs(outputDir string, crash bool) ([]replay.Input, error) {
	name := "input_creation_timings.txt"
	if crash {
		name = "crash_creation_timings.txt"
	}
	timings, err := readTimings(filepath.Join(outputDir, "stats", name))
	if err != nil {
		return nil, err
	}
	env := s.env()
	inputs := make([]replay.Input, 0, len(timings))
	for _, t := range timings {
		inputs = append(inputs, replay.Input{
			Path: t.path,
			Time: t.seconds,
			Args: []string{"fuzzware", "replay", "-v", filepath.Join(outputDir, t.path)},
			Env:  env,
		})
	}
	return inputs, nil
}

type timing struct {
	seconds int64
	path    string
}

// readTimings parses "<seconds> <path>" lines. Fractional seconds are
// truncated toward zero.
func readTimings(path string) ([]timing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("timing file not found: %w", err)
	}
	defer f.Close()

	var out []timing
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		idx := strings.IndexFunc(text, unicode.IsSpace)
		if idx < 0 {
			return nil, fmt.Errorf("%s:%d: expected \"<time> <path>\"", path, line)
		}
		secs, err := strconv.ParseFloat(text[:idx], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid time: %w", path, line, err)
		}
		out = append(out, timing{
			seconds: int64(secs),
			path:    strings.TrimSpace(text[idx:]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

// commentMainConfigs comments out the first line of every main*/config.yml,
// which the icicle backend cannot replay with.
func commentMainConfigs(outputDir string) error {
	mains, err := filepath.Glob(filepath.Join(outputDir, "main*", "config.yml"))
	if err != nil {
		return err
	}
	for _, path := range mains {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		first, _, _ := strings.Cut(string(data), "\n")
		if strings.HasPrefix(strings.TrimSpace(first), "#") {
			continue
		}
		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, append([]byte("# "), data...), st.Mode()); err != nil {
			return fmt.Errorf("failed to update %s: %w", path, err)
		}
	}
	return nil
}
