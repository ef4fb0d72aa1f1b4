package driver

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// DockerDriver runs every command in its own container, one CPU per slot.
type DockerDriver struct {
	logger *zap.Logger
	binary string
}

func NewDockerDriver(logger *zap.Logger) *DockerDriver {
	return &DockerDriver{logger: logger, binary: "docker"}
}

func (d *DockerDriver) Start(ctx context.Context, cmd Command, slot int) (Handle, error) {
	if cmd.Image == "" {
		return nil, fmt.Errorf("command %s has no image", cmd.Name)
	}
	name := SlotName(cmd, slot)
	argv := d.runArgs(cmd, slot)
	d.logger.Debug("starting container", zap.String("name", name), zap.Strings("argv", argv))

	h, err := startProcess(ctx, argv, "", nil, cmd.LogPath, cmd.LogHeader)
	if err != nil {
		return nil, err
	}
	// killing the docker client would leave the container running
	h.kill = func() error {
		out, err := exec.Command(d.binary, "kill", name).CombinedOutput()
		if err != nil {
			d.logger.Warn("docker kill failed", zap.String("name", name), zap.ByteString("output", out), zap.Error(err))
			return h.killGroup()
		}
		return nil
	}
	return h, nil
}

func (d *DockerDriver) runArgs(cmd Command, slot int) []string {
	argv := []string{d.binary, "run"}
	if cmd.Pin {
		argv = append(argv, "--cpus=1", "--cpuset-cpus="+strconv.Itoa(slot))
	}
	argv = append(argv, "--rm", "--name", SlotName(cmd, slot))
	for _, m := range cmd.Mounts {
		argv = append(argv, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s", m.Source, m.Target))
	}
	if cmd.WorkDir != "" {
		argv = append(argv, "-w", cmd.WorkDir)
	}
	for _, e := range cmd.Env {
		argv = append(argv, "-e", e)
	}
	argv = append(argv, cmd.Image)
	return append(argv, cmd.Args...)
}
