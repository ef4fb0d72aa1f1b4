package driver

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// ProcessDriver runs commands directly on the host. Pinned commands go
// through taskset when it is installed.
type ProcessDriver struct {
	logger  *zap.Logger
	taskset string
}

func NewProcessDriver(logger *zap.Logger) *ProcessDriver {
	taskset, _ := exec.LookPath("taskset")
	return &ProcessDriver{logger: logger, taskset: taskset}
}

func (d *ProcessDriver) Start(ctx context.Context, cmd Command, slot int) (Handle, error) {
	argv := cmd.Args
	if cmd.Pin && d.taskset != "" {
		argv = append([]string{d.taskset, "-c", strconv.Itoa(slot)}, argv...)
	}
	env := append([]string{"FRB_SLOT=" + strconv.Itoa(slot)}, cmd.Env...)
	d.logger.Debug("starting process", zap.String("name", SlotName(cmd, slot)), zap.Strings("argv", argv))

	h, err := startProcess(ctx, argv, cmd.WorkDir, env, cmd.LogPath, cmd.LogHeader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SlotName(cmd, slot), err)
	}
	return h, nil
}
