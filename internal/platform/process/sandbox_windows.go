//go:build windows

package process

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; only the direct child is tracked.
func setProcessGroup(cmd *exec.Cmd) {}

// killGroup terminates the phase process.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// signaled cannot tell a terminated process from one that exited with the
// same code on Windows, so any process that ran is assumed killed.
func signaled(ps *os.ProcessState) bool {
	return ps != nil
}
