// Package report builds and stores frb_report.json, the per-campaign record of
// when every known bug was reached, triggered and detected in each trial.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"frbench/internal/timeline"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const FileName = "frb_report.json"

type ExecutionTime struct {
	InputAverage float64 `json:"input average"` // seconds per replay
	Count        int     `json:"count"`
}

type CampaignReport struct {
	Fuzzer        string                        `json:"Fuzzer"`
	Target        string                        `json:"Target"`
	NumTrials     int                           `json:"Number-Trials"`
	TrialTime     int                           `json:"Trial-Time"` // seconds
	Campaign      map[string]*timeline.Timeline `json:"Campaign"`
	ExecutionTime ExecutionTime                 `json:"execution_time"`
}

var runNamePattern = regexp.MustCompile(`^run-(\d+)$`)

// RunName maps a trial number to its key in Campaign.
func RunName(n int) string {
	return "run-" + strconv.Itoa(n)
}

// Runs returns the run names ordered by trial number.
func (r *CampaignReport) Runs() []string {
	names := make([]string, 0, len(r.Campaign))
	for name := range r.Campaign {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return runNumber(names[i]) < runNumber(names[j])
	})
	return names
}

func runNumber(name string) int {
	m := runNamePattern.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// UngroupedCount is the number of crashing inputs, over all runs, that did not
// trigger any known bug.
func (r *CampaignReport) UngroupedCount() int {
	total := 0
	for _, tl := range r.Campaign {
		total += len(tl.UngroupedCrashes())
	}
	return total
}

// Validate checks every run for records triggered without being reached.
func (r *CampaignReport) Validate() error {
	for _, name := range r.Runs() {
		if err := r.Campaign[name].Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Save writes the report with a four-space indent.
func (r *CampaignReport) Save(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Load reads a report. A directory is resolved to the report inside it.
func Load(path string) (*CampaignReport, error) {
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	r := &CampaignReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	if r.Campaign == nil {
		return nil, fmt.Errorf("report %s has no Campaign section", path)
	}
	return r, nil
}
