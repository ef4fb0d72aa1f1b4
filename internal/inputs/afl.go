package inputs

import (
	"bufio"
	"context"
	"fmt"
	"frbench/internal/replay"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// invocation turns a seed path into the command that replays it.
type invocation func(seed string) replay.Input

// clock returns the second at which the fuzzer saved a seed.
type clock func(seed string) (int64, error)

// aflSource handles fuzzers that keep an AFL++ style "default" instance
// directory with queue and crashes folders.
type aflSource struct {
	logger  *zap.Logger
	fuzzer  string
	opts    Options
	command func(opts Options, outputDir string) (invocation, error)
	timing  func(outputDir string) (clock, error)
}

func (s *aflSource) Fuzzer() string { return s.fuzzer }

func (s *aflSource) Prepare(context.Context, string) error { return nil }

func (s *aflSource) Inputs(outputDir string, crash bool) ([]replay.Input, error) {
	seeds, err := listSeeds(filepath.Join(outputDir, "default", folderName(crash)), func(name string) bool {
		return strings.HasPrefix(name, "id")
	})
	if err != nil {
		return nil, err
	}
	build, err := s.command(s.opts, outputDir)
	if err != nil {
		return nil, err
	}
	timeOf, err := s.timing(outputDir)
	if err != nil {
		return nil, err
	}
	return collect(s.logger, seeds, build, timeOf, replay.DescriptorEnv(s.opts.DescriptorPath)), nil
}

// collect pairs every seed with its time and command. Seeds without a usable
// time are dropped.
func collect(logger *zap.Logger, seeds []string, build invocation, timeOf clock, env ...string) []replay.Input {
	inputs := make([]replay.Input, 0, len(seeds))
	for _, seed := range seeds {
		t, err := timeOf(seed)
		if err != nil {
			logger.Warn("skipping input without creation time", zap.String("input", seed), zap.Error(err))
			continue
		}
		in := build(seed)
		in.Path = seed
		in.Time = t
		in.Env = append(in.Env, env...)
		inputs = append(inputs, in)
	}
	return inputs
}

var nameTimePattern = regexp.MustCompile(`time[_:](\d+)`)

// nameTime reads the millisecond timestamp AFL++ encodes in seed names.
func nameTime(string) (clock, error) {
	return func(seed string) (int64, error) {
		m := nameTimePattern.FindStringSubmatch(filepath.Base(seed))
		if m == nil {
			return 0, fmt.Errorf("no time in seed name")
		}
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return int64(math.RoundToEven(float64(ms) / 1000)), nil
	}, nil
}

// statsTime measures seed age from the instance start recorded in
// default/fuzzer_stats.
func statsTime(outputDir string) (clock, error) {
	start, err := statsStartTime(filepath.Join(outputDir, "default", "fuzzer_stats"))
	if err != nil {
		return nil, err
	}
	return func(seed string) (int64, error) {
		st, err := os.Stat(seed)
		if err != nil {
			return 0, err
		}
		return st.ModTime().Unix() - start, nil
	}, nil
}

var digitsPattern = regexp.MustCompile(`\d+`)

func statsStartTime(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read fuzzer stats: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "start_time") {
			continue
		}
		if d := digitsPattern.FindString(line); d != "" {
			return strconv.ParseInt(d, 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("start_time not found in %s", path)
}

func semuCommand(_ Options, outputDir string) (invocation, error) {
	config, err := filepath.Abs(filepath.Join(outputDir, "..", "config.yml"))
	if err != nil {
		return nil, err
	}
	return func(seed string) replay.Input {
		return replay.Input{Args: []string{"stdbuf", "-oL", "-eL", "semu-fuzz", seed, config}}
	}, nil
}

func emberCommand(opts Options, outputDir string) (invocation, error) {
	elfs, _ := filepath.Glob(filepath.Join(outputDir, "..", "*.elf"))
	if len(elfs) == 0 {
		return nil, fmt.Errorf("no .elf file next to %s", outputDir)
	}
	sort.Strings(elfs)
	params, err := runParameters(filepath.Join(outputDir, "default", "cmdline"))
	if err != nil {
		return nil, err
	}
	qemu := filepath.Join(opts.EmberBaseDir, "AFLplusplus", "afl-qemu-trace")
	return func(seed string) replay.Input {
		args := append([]string{qemu, "-kernel", elfs[0]}, params...)
		return replay.Input{Args: append(args, seed)}
	}, nil
}

// runParameters extracts the emulator arguments between the firmware image and
// the "@@" input placeholder of an AFL++ cmdline file.
func runParameters(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cmdline file: %w", err)
	}
	defer f.Close()

	var params []string
	seenELF := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasSuffix(line, ".elf"):
			seenELF = true
		case !seenELF:
			return nil, fmt.Errorf("no ELF file found in cmdline at %s", path)
		case strings.Contains(line, "@@"):
			return params, nil
		default:
			params = append(params, strings.Fields(line)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no @@ placeholder in cmdline at %s", path)
}

func diceCommand(_ Options, outputDir string) (invocation, error) {
	model, err := finalModel(outputDir)
	if err != nil {
		return nil, err
	}
	return func(seed string) replay.Input {
		return replay.Input{
			Args: []string{"stdbuf", "-oL", "-eL", "./run_fw.py", strconv.Itoa(model), seed},
			Dir:  outputDir,
		}
	}, nil
}

// finalModel is the highest numbered peripheral model directory DICE wrote.
func finalModel(outputDir string) (int, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return 0, err
	}
	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err == nil && n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("no model directory in %s", outputDir)
	}
	return best, nil
}
