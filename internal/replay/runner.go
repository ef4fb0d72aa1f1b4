// Package replay re-executes recorded fuzzer inputs against an instrumented
// build of the target and folds what they reveal into a bug timeline.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	reachedMarker   = "REACHED:"
	triggeredMarker = "TRIGGERED:"

	// crash replays that print either token did not run the input as recorded
	aircrMarker      = "SYSCTL_AIRCR"
	shortReadMarker  = "input file not read until end"
	descriptorEnvKey = "FIRMREBUGGER_CONFIG"
)

// Input is one recorded fuzzer input plus the invocation that replays it.
type Input struct {
	Path string   // reference stored in raw_crash_data
	Time int64    // seconds since trial start at which the fuzzer produced it
	Args []string // Args[0] is the executable
	Env  []string
	Dir  string
}

type Result struct {
	Reached   []string
	Triggered []string
	Anomalous bool
	ExitCode  int
	Elapsed   time.Duration
}

type Runner interface {
	Replay(ctx context.Context, in Input, crash bool) (*Result, error)
}

// DescriptorEnv points the instrumented emulator at the bug descriptor.
func DescriptorEnv(descriptorPath string) string {
	return descriptorEnvKey + "=" + descriptorPath
}

// Classify extracts the bug ids an invocation reported. Reached ids are only
// collected until the first triggered line.
func Classify(stdout, stderr string, crash bool) *Result {
	res := &Result{Reached: []string{}, Triggered: []string{}}
	triggered := false
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if !triggered {
			if id, ok := after(line, reachedMarker); ok {
				res.Reached = appendUnique(res.Reached, id)
			}
		}
		if id, ok := after(line, triggeredMarker); ok {
			triggered = true
			res.Triggered = appendUnique(res.Triggered, id)
		}
	}
	if crash {
		res.Anomalous = strings.Contains(stdout, aircrMarker) || strings.Contains(stderr, shortReadMarker)
	}
	return res
}

func after(line, marker string) (string, bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	id := strings.TrimSpace(line[idx+len(marker):])
	return id, id != ""
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// ExecRunner replays inputs as local child processes.
type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Replay(ctx context.Context, in Input, crash bool) (*Result, error) {
	if len(in.Args) == 0 {
		return nil, fmt.Errorf("no replay command for %s", in.Path)
	}

	cmd := exec.CommandContext(ctx, in.Args[0], in.Args[1:]...)
	cmd.Dir = in.Dir
	cmd.Env = append(os.Environ(), in.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// the replayed firmware crashing is the expected outcome for crash inputs
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to replay %s: %w", in.Path, err)
	}

	res := Classify(stdout.String(), stderr.String(), crash)
	res.Elapsed = elapsed
	res.ExitCode = cmd.ProcessState.ExitCode()
	r.logger.Debug("replayed input",
		zap.String("input", in.Path),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", elapsed),
		zap.Strings("reached", res.Reached),
		zap.Strings("triggered", res.Triggered))
	return res, nil
}
