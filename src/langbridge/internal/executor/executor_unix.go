//go:build !windows

package executor

import (
	"os/exec"
	"syscall"

	"go.uber.org/multierr"
)

type processHandle struct {
	cmd *exec.Cmd
}

// startProcessGroup launches cmd as the leader of a fresh process group so
// that helper children spawned by the backend runtime can be terminated
// together with it.
func startProcessGroup(cmd *exec.Cmd) (Handle, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

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
	pid := h.cmd.Process.Pid

	// Negative pid addresses the whole process group.
	groupErr := syscall.Kill(-pid, syscall.SIGKILL)
	if groupErr == syscall.ESRCH {
		return nil
	}

	// Fall back to the direct child in case it escaped its group.
	directErr := h.cmd.Process.Kill()
	if groupErr == nil {
		return nil
	}
	return multierr.Combine(groupErr, directErr)
}
