//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the phase in its own process group so that a kill
// reaches every process it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the phase's whole process group. The leader is
// signalled first: that fails with os.ErrProcessDone once Wait has reaped it,
// and a reaped leader's pid may already name someone else's group.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGKILL); err != nil {
		return err
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// signaled reports whether the process was terminated by a signal.
func signaled(ps *os.ProcessState) bool {
	if ps == nil {
		return false
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled()
}
