package scheduler

import (
	"fmt"
	"frbench/internal/driver"
	"frbench/internal/types"
	"frbench/pkg/telemetry"
	"time"
)

type Kind int

const (
	KindTrial Kind = iota
	KindAnalysis
)

func (k Kind) String() string {
	if k == KindAnalysis {
		return "analysis"
	}
	return "trial"
}

type State int

const (
	StateQueued State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateInterrupted // killed because the scheduler was stopped
	StateFailed      // could not be started
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Job is one unit of work bound to a slot while it runs. Only the control
// loop mutates a job after it was submitted.
type Job struct {
	ID        string
	Kind      Kind
	Target    types.TrialTarget
	Group     types.GroupKey
	GroupSize int    // trials in the group; analysis starts once all finished
	ResultDir string // directory shared by the group
	Command   driver.Command
	Timeout   time.Duration // zero disables the deadline

	State     State
	Slot      int
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int

	handle driver.Handle
	tracer telemetry.Tracer
}

func (j *Job) Desc() string {
	if j.Kind == KindAnalysis {
		return fmt.Sprintf("analysis %s", j.Group)
	}
	return j.Target.String()
}

func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartTime.IsZero() {
		return 0
	}
	if !j.EndTime.IsZero() {
		return j.EndTime.Sub(j.StartTime)
	}
	return now.Sub(j.StartTime)
}

// RunError records a job that ran but did not end cleanly.
type RunError struct {
	JobID    string
	Desc     string
	ExitCode int
	Err      error
}

func (e RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Desc, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s (%s): exit code %d", e.Desc, e.JobID, e.ExitCode)
}

func (e RunError) Unwrap() error { return e.Err }

// Summary is what Run reports once the queue drained or the run was stopped.
type Summary struct {
	Completed   int
	TimedOut    int
	Interrupted int
	Failed      int
	Analyses    int // analysis jobs enqueued by group completion
	Errors      []RunError
	Stopped     bool // the context was cancelled before the queue drained
	Unstarted   int  // jobs still queued when the run stopped
	// Incomplete lists groups with a trial that never started; they are
	// never analyzed.
	Incomplete []types.GroupKey
}

// cleanExit reports whether a fuzzer exit code means a normal end. 124 is what
// timeout(1) inside the fuzzer scripts returns.
func cleanExit(code int) bool {
	return code == 0 || code == 124
}
