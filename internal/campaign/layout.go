// Package campaign turns benchmark selections into scheduler jobs: it knows
// the on-disk layout of a benchmark checkout, prepares result directories and
// builds the container commands for trials and analyses.
package campaign

import (
	"fmt"
	"frbench/internal/descriptor"
	"frbench/internal/types"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Layout resolves paths inside a benchmark checkout:
//
//	<base>/<bench>/<suite>/<target>/binary/*.elf
//	<base>/<bench>/<suite>/<target>/bug_descriptor.c
//	<base>/<bench>/<suite>/<target>/fuzzers/<fuzzer>/fuzzing_out/<output_name>/output-NN
type Layout struct {
	BaseDir    string
	RunnersDir string // holds <fuzzer>-run.sh
}

func NewLayout(baseDir string) Layout {
	return Layout{
		BaseDir:    baseDir,
		RunnersDir: filepath.Join(baseDir, "src", "firmrebugger", "fuzz", "fuzzer_runners"),
	}
}

func (l Layout) TargetDir(t types.TrialTarget) string {
	return filepath.Join(l.BaseDir, t.Bench, t.Suite, t.Target)
}

func (l Layout) FuzzerDir(t types.TrialTarget) string {
	return filepath.Join(l.TargetDir(t), "fuzzers", t.Fuzzer)
}

// ResultDir is shared by all trials of a group.
func (l Layout) ResultDir(t types.TrialTarget) string {
	return filepath.Join(l.FuzzerDir(t), "fuzzing_out", t.OutputName)
}

func (l Layout) BinaryDir(t types.TrialTarget) string {
	return filepath.Join(l.TargetDir(t), "binary")
}

func (l Layout) RunnerScript(fuzzer string) string {
	return filepath.Join(l.RunnersDir, fuzzer+"-run.sh")
}

// DescriptorPath locates the bug descriptor from a result directory, four
// levels up.
func DescriptorPath(resultDir string) string {
	return filepath.Join(resultDir, "..", "..", "..", "..", descriptor.FileName)
}

// FindELF returns the first firmware image in dir.
func FindELF(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.elf"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no .elf file in %s", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

var outputDirPattern = regexp.MustCompile(`^output-(\d+)$`)

// OutputDirs lists the per-trial output directories of a result directory in
// trial order.
func OutputDirs(resultDir string) ([]string, error) {
	entries, err := os.ReadDir(resultDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", resultDir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "output-") {
			dirs = append(dirs, filepath.Join(resultDir, e.Name()))
		}
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no output directories found in %s", resultDir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// RunNumber extracts N from an output-N directory.
func RunNumber(outputDir string) (int, error) {
	m := outputDirPattern.FindStringSubmatch(filepath.Base(outputDir))
	if m == nil {
		return 0, fmt.Errorf("%q does not match output-<number>", filepath.Base(outputDir))
	}
	return strconv.Atoi(m[1])
}

var fuzzingTimePattern = regexp.MustCompile(`^(\d+)([hms])$`)

// ParseFuzzingTime converts "24h", "3600m" or "86400s" to seconds.
func ParseFuzzingTime(s string) (int, error) {
	m := fuzzingTimePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid fuzzing time %q: use a unit of h, m or s, e.g. 24h, 3600m, 86400s", s)
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid fuzzing time %q: %w", s, err)
	}
	switch m[2] {
	case "h":
		return v * 3600, nil
	case "m":
		return v * 60, nil
	}
	return v, nil
}

// Discover lists "suite/target" entries of a bench that ship a setup for at
// least one of the fuzzers.
func (l Layout) Discover(bench string, fuzzers []string) ([]string, error) {
	benchDir := filepath.Join(l.BaseDir, bench)
	suites, err := os.ReadDir(benchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list bench %s: %w", bench, err)
	}
	var found []string
	for _, suite := range suites {
		if !suite.IsDir() {
			continue
		}
		targets, err := os.ReadDir(filepath.Join(benchDir, suite.Name()))
		if err != nil {
			continue
		}
		for _, target := range targets {
			if !target.IsDir() {
				continue
			}
			for _, fuzzer := range fuzzers {
				st, err := os.Stat(filepath.Join(benchDir, suite.Name(), target.Name(), "fuzzers", fuzzer))
				if err == nil && st.IsDir() {
					found = append(found, suite.Name()+"/"+target.Name())
					break
				}
			}
		}
	}
	sort.Strings(found)
	return found, nil
}
