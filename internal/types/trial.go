package types

import "fmt"

// one fuzzer run against one firmware target
type TrialTarget struct {
	Fuzzer      string `json:"fuzzer" yaml:"fuzzer"`
	Bench       string `json:"bench" yaml:"bench"`   // e.g. FirmBench
	Suite       string `json:"suite" yaml:"suite"`   // e.g. 01-targets
	Target      string `json:"target" yaml:"target"` // e.g. CNC
	Trial       int    `json:"trial" yaml:"trial"`   // zero based
	OutputName  string `json:"output_name" yaml:"output_name"`
	FuzzingTime int    `json:"fuzzing_time" yaml:"fuzzing_time"` // seconds
}

// OutputDir is the per-trial directory name inside the result dir.
func (t TrialTarget) OutputDir() string {
	return fmt.Sprintf("output-%02d", t.Trial+1)
}

func (t TrialTarget) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:trial%d", t.Fuzzer, t.Suite, t.OutputName, t.Target, t.Trial+1)
}

// GroupKey identifies all trials whose outputs share one result directory.
type GroupKey struct {
	Fuzzer     string
	Bench      string
	Suite      string
	Target     string
	OutputName string
}

func (t TrialTarget) Group() GroupKey {
	return GroupKey{t.Fuzzer, t.Bench, t.Suite, t.Target, t.OutputName}
}

func (g GroupKey) String() string {
	return fmt.Sprintf("%s:%s/%s:%s:%s", g.Fuzzer, g.Bench, g.Suite, g.Target, g.OutputName)
}
