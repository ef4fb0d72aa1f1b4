// Package benchinfo reads and writes frb_bench_info.yml, the metadata file
// kept in every campaign result directory.
package benchinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

const FileName = "frb_bench_info.yml"

// File is the on-disk layout. Field order matters for humans reading it.
type File struct {
	Fuzzer      string `yaml:"Fuzzer"`
	Target      string `yaml:"Target"`
	NumTrials   int    `yaml:"Num_Trials"`
	PlannedTime int    `yaml:"Planned_Time"`
	StartTime   int64  `yaml:"Start_Time"`
	EndTime     *int64 `yaml:"End_Time"`
	TotalTime   *int64 `yaml:"Total_Time"`
	StartDate   string `yaml:"Start_date"`
}

// Info is the subset of the metadata the analysis needs.
type Info struct {
	Fuzzer    string
	Target    string
	NumTrials int
	TotalTime int
}

func Path(resultDir string) string {
	return filepath.Join(resultDir, FileName)
}

// Init writes a fresh descriptor for a campaign whose first trial starts now.
func Init(resultDir, fuzzer, elfPath string, numTrials, plannedSeconds int, start time.Time) error {
	f := File{
		Fuzzer:      fuzzer,
		Target:      strings.TrimSuffix(filepath.Base(elfPath), filepath.Ext(elfPath)),
		NumTrials:   numTrials,
		PlannedTime: plannedSeconds,
		StartTime:   start.Unix(),
		StartDate:   start.Format(time.DateTime),
	}
	return write(resultDir, &f)
}

// Finish records the end of a trial. Every trial of the campaign overwrites the
// previous value, so the last trial to stop wins.
func Finish(resultDir string, end time.Time, elapsed time.Duration) error {
	data, err := os.ReadFile(Path(resultDir))
	if err != nil {
		return fmt.Errorf("failed to read bench info: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse bench info: %w", err)
	}
	endTime := end.Unix()
	total := int64(elapsed.Round(time.Second) / time.Second)
	f.EndTime = &endTime
	f.TotalTime = &total
	return write(resultDir, &f)
}

func write(resultDir string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode bench info: %w", err)
	}
	if err := os.WriteFile(Path(resultDir), data, 0644); err != nil {
		return fmt.Errorf("failed to write bench info: %w", err)
	}
	return nil
}

// Read loads the descriptor of resultDir. Keys are matched ignoring case and
// punctuation, so files written by older tooling ("num-trials", "TotalTime")
// still load.
func Read(resultDir string) (*Info, error) {
	data, err := os.ReadFile(Path(resultDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read bench info: %w", err)
	}
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bench info: %w", err)
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[normalizeKey(k)] = v
	}

	info := &Info{
		Fuzzer:    asString(fields["fuzzer"]),
		Target:    asString(fields["target"]),
		NumTrials: asInt(fields["numtrials"]),
		TotalTime: asInt(fields["totaltime"]),
	}
	if info.Fuzzer == "" {
		return nil, fmt.Errorf("bench info %s has no fuzzer", Path(resultDir))
	}
	return info, nil
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err == nil {
			return i
		}
	}
	return 0
}
