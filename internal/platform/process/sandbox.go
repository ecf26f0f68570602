// Package process runs job phases as local OS processes.
//
// WARNING: No sandboxing. Phases run with the privileges of the server
// process and can read and write the filesystem, open network connections,
// and use CPU and memory up to OS limits until their timeout fires. The only
// containment is the wall-clock timeout and the output cap.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/platform/capture"
)

// waitDelay bounds how long Wait keeps draining pipes held open by a
// descendant after the phase process itself has exited.
const waitDelay = time.Second

// Sandbox implements domain.Sandbox with os/exec.
type Sandbox struct {
	env []string
}

// Check if Sandbox implements domain.Sandbox
var _ domain.Sandbox = (*Sandbox)(nil)

// New returns a Sandbox that inherits the server environment.
func New() *Sandbox {
	return &Sandbox{env: os.Environ()}
}

// Exec runs one phase to completion. The process and all of its
// descendants are killed with SIGKILL when the timeout expires, when either
// output stream exceeds the limit, or when ctx is cancelled. Exec returns
// only after the process has been reaped.
func (s *Sandbox) Exec(ctx context.Context, phase domain.Phase) (domain.Outcome, error) {
	if len(phase.Argv) == 0 {
		return domain.Outcome{}, fmt.Errorf("%w: empty command", domain.ErrSpawn)
	}

	cmd := exec.Command(phase.Argv[0], phase.Argv[1:]...)
	cmd.Dir = phase.Workspace
	cmd.Env = append(append([]string{}, s.env...),
		"TMPDIR="+phase.Workspace,
		"PYTHONDONTWRITEBYTECODE=1",
	)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var (
		mu     sync.Mutex
		exited bool
		reason domain.KillReason
	)
	kill := func(r domain.KillReason) {
		mu.Lock()
		defer mu.Unlock()
		if exited || reason != domain.NotKilled {
			return
		}
		reason = r
		if err := killGroup(cmd); err != nil {
			// The process may already be gone; Wait below still reaps it.
			slog.Debug("Kill failed", "phase", phase.Name, "pid", cmd.Process.Pid, "error", err)
		}
	}

	stdout := capture.NewBuffer(phase.OutputLimit, func() { kill(domain.KillOutputLimit) })
	stderr := capture.NewBuffer(phase.OutputLimit, func() { kill(domain.KillOutputLimit) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: %s: %v", domain.ErrSpawn, phase.Argv[0], err)
	}

	var timer *time.Timer
	if phase.Timeout > 0 {
		timer = time.AfterFunc(phase.Timeout, func() { kill(domain.KillTimeout) })
	}
	stopCtx := context.AfterFunc(ctx, func() { kill(domain.KillCancelled) })

	waitErr := cmd.Wait()

	mu.Lock()
	exited = true
	killed := reason
	mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	stopCtx()
	// A timeout or cancel that raced the process's own exit killed nothing.
	if (killed == domain.KillTimeout || killed == domain.KillCancelled) && !signaled(cmd.ProcessState) {
		killed = domain.NotKilled
	}

	out := domain.Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Killed:   killed,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	} else if waitErr != nil {
		return out, fmt.Errorf("%w: wait %s: %v", domain.ErrSpawn, phase.Argv[0], waitErr)
	}
	return out, nil
}
