// Package executor compiles and runs submitted source code under per-language
// policies: a private workspace per job, wall-clock timeouts, per-stream
// output caps, and a validated job lifecycle.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

// Scheduler implements domain.JobRunner on top of a Sandbox.
type Scheduler struct {
	sandbox  domain.Sandbox
	policies Policies
	root     string
}

// Check if Scheduler implements domain.JobRunner
var _ domain.JobRunner = (*Scheduler)(nil)

// NewScheduler creates a Scheduler. Workspaces are created under root, or
// the OS temp directory when root is empty.
func NewScheduler(sandbox domain.Sandbox, policies Policies, root string) *Scheduler {
	if root == "" {
		root = os.TempDir()
	}
	return &Scheduler{sandbox: sandbox, policies: policies, root: root}
}

// Execute runs job to a terminal state and always returns a Result.
// A program that exits non-zero, or a compile error, is a successful Result.
func (s *Scheduler) Execute(ctx context.Context, job domain.Job) (res domain.Result) {
	start := time.Now()
	lc := &lifecycle{jobID: job.ID, state: StateCreated}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job panicked", "jobID", job.ID, "state", lc.state, "panic", r)
			res = domain.FailedResult(fmt.Errorf("internal error: %v", r))
		}
		res.TimeMs = time.Since(start).Milliseconds()
		slog.Info("Job finished", "jobID", job.ID, "language", job.Language, "status", res.Status, "timeMs", res.TimeMs)
	}()

	policy, ok := s.policies[job.Language]
	if !ok {
		lc.advance(StateFailed)
		return domain.FailedResult(fmt.Errorf("%w: %q", domain.ErrUnsupportedLanguage, job.Language))
	}

	ws, err := newWorkspace(s.root, job.ID, policy, job.Source)
	if err != nil {
		slog.Error("Failed to prepare workspace", "jobID", job.ID, "error", err)
		lc.advance(StateFailed)
		return domain.FailedResult(err)
	}
	// Sandbox.Exec returns only once the process is reaped, so nothing is
	// still writing here when this runs.
	defer ws.release()

	if policy.Compiled() {
		lc.advance(StateCompiling)
		out, err := s.sandbox.Exec(ctx, domain.Phase{
			Name:        "compile",
			Language:    job.Language,
			Workspace:   ws.dir,
			Argv:        policy.Compile,
			Timeout:     policy.CompileTimeout,
			OutputLimit: policy.OutputLimit,
		})
		if err != nil {
			lc.advance(StateFailed)
			return domain.FailedResult(err)
		}
		if out.Killed != domain.NotKilled {
			lc.advance(StateKilled)
			return killedResult(out, "compilation", policy.CompileTimeout, policy.OutputLimit)
		}
		if out.ExitCode != 0 {
			lc.advance(StateCompleted)
			return domain.Result{
				OK:       true,
				Stderr:   out.Stderr,
				ExitCode: exitCode(out.ExitCode),
				Status:   domain.StatusCompleted,
			}
		}
	}

	lc.advance(StateRunning)
	out, err := s.sandbox.Exec(ctx, domain.Phase{
		Name:        "run",
		Language:    job.Language,
		Workspace:   ws.dir,
		Argv:        policy.Run,
		Timeout:     policy.RunTimeout,
		OutputLimit: policy.OutputLimit,
	})
	if err != nil {
		lc.advance(StateFailed)
		return domain.FailedResult(err)
	}
	if out.Killed != domain.NotKilled {
		lc.advance(StateKilled)
		return killedResult(out, "execution", policy.RunTimeout, policy.OutputLimit)
	}

	lc.advance(StateCompleted)
	return domain.Result{
		OK:       true,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: exitCode(out.ExitCode),
		Status:   domain.StatusCompleted,
	}
}

// killedResult keeps whatever output was captured before the kill.
func killedResult(out domain.Outcome, phase string, timeout time.Duration, limit int) domain.Result {
	var msg string
	switch out.Killed {
	case domain.KillTimeout:
		msg = fmt.Sprintf("%s timed out after %s", phase, timeout)
	case domain.KillOutputLimit:
		msg = fmt.Sprintf("output limit of %d bytes exceeded", limit)
	default:
		msg = phase + " cancelled"
	}
	return domain.Result{
		OK:     false,
		Stdout: out.Stdout,
		Stderr: out.Stderr,
		Error:  msg,
		Status: domain.StatusKilled,
	}
}

// exitCode maps a signal-terminated process (-1) to a null exit code.
func exitCode(code int) *int {
	if code < 0 {
		return nil
	}
	return &code
}
