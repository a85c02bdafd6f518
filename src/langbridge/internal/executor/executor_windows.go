//go:build windows

package executor

import "os/exec"

type processHandle struct {
	cmd *exec.Cmd
}

func startProcessGroup(cmd *exec.Cmd) (Handle, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processHandle{cmd: cmd}, nil
}

func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *processHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *processHandle) Kill() error {
	// Windows has no process groups in the POSIX sense; descendants spawned
	// by the runtime are expected to exit when their stdio pipes close.
	return h.cmd.Process.Kill()
}
