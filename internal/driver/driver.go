// Package driver starts scheduled commands either inside docker containers or
// as plain host processes, and lets the scheduler poll and kill them.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Mount is a bind mount from the host into a container.
type Mount struct {
	Source string
	Target string
}

// Command describes what to run. Name and Pin are completed with the slot at
// start time so a job never has to know its slot in advance.
type Command struct {
	Name    string // base name; the driver appends "_<slot>"
	Image   string // container image, ignored by the process driver
	Mounts  []Mount
	WorkDir string
	Args    []string
	Env     []string
	Pin     bool // restrict the command to the slot's core

	LogPath   string // stdout and stderr are appended here when set
	LogHeader string // written once before the command output
}

type Status struct {
	Done     bool
	ExitCode int
}

type Handle interface {
	// Poll never blocks.
	Poll() (Status, error)
	Kill() error
}

type Driver interface {
	Start(ctx context.Context, cmd Command, slot int) (Handle, error)
}

// SlotName is the container or process name used for a command in a slot.
func SlotName(cmd Command, slot int) string {
	return fmt.Sprintf("%s_%d", cmd.Name, slot)
}

// procHandle tracks a started child process. A goroutine reaps it so Poll
// only reads state.
type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	kill func() error

	mu     sync.Mutex
	status Status
	err    error
	closer io.Closer
}

func startProcess(ctx context.Context, argv []string, dir string, env []string, logPath, logHeader string) (*procHandle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &procHandle{cmd: cmd, done: make(chan struct{})}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		if logHeader != "" {
			if _, err := io.WriteString(f, logHeader); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write log header: %w", err)
			}
		}
		cmd.Stdout = f
		cmd.Stderr = f
		h.closer = f
	}

	if err := cmd.Start(); err != nil {
		if h.closer != nil {
			h.closer.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	h.kill = h.killGroup

	go h.reap()
	return h, nil
}

func (h *procHandle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = Status{Done: true, ExitCode: h.cmd.ProcessState.ExitCode()}
	if _, ok := err.(*exec.ExitError); !ok && err != nil {
		h.err = err
	}
	if h.closer != nil {
		h.closer.Close()
	}
	close(h.done)
}

func (h *procHandle) Poll() (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.err
}

func (h *procHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.kill(); err != nil {
		return err
	}
	<-h.done
	return nil
}

// killGroup kills the whole process group so shell wrappers do not leave
// their children behind.
func (h *procHandle) killGroup() error {
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill process group %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}
