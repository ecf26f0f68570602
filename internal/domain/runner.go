package domain

import (
	"context"
	"time"
)

// Job is one request to compile and run a piece of source code.
// It is never persisted beyond the queue that carries it.
type Job struct {
	ID        string    `json:"id"`
	Language  Language  `json:"language"`
	Source    string    `json:"source"`
	Room      string    `json:"room,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	// StartBy is the latest time a worker may begin the job. A job dequeued
	// later is answered with ErrJobExpired and never executed. Zero means
	// no deadline.
	StartBy time.Time `json:"startBy,omitzero"`

	// RawID is the queue-internal message id (e.g. a Redis stream id).
	// We need this to Acknowledge the message later.
	RawID string `json:"-"`
}

// Expired reports whether the job's start deadline has passed at now.
func (j Job) Expired(now time.Time) bool {
	return !j.StartBy.IsZero() && now.After(j.StartBy)
}

// Status is the terminal state a job ended in.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusKilled    Status = "killed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one job. A program that ran and exited non-zero
// is a successful Result; OK is false only when the scheduler killed the job
// or could not run it.
type Result struct {
	OK       bool   `json:"ok"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exitCode"`
	Error    string `json:"error,omitempty"`
	Status   Status `json:"status"`
	TimeMs   int64  `json:"time"`
}

// FailedResult builds the Result for a job that never ran.
func FailedResult(err error) Result {
	return Result{OK: false, Error: err.Error(), Status: StatusFailed}
}

// JobResult pairs a Result with the job it belongs to. It is the message
// carried on the queue's result feed.
type JobResult struct {
	JobID  string `json:"jobID"`
	Result Result `json:"result"`
}

// JobRunner executes a job to completion. Implementations must always return
// a Result and never panic.
type JobRunner interface {
	Execute(ctx context.Context, job Job) Result
}

// KillReason records why a phase was terminated early.
type KillReason string

const (
	NotKilled       KillReason = ""
	KillTimeout     KillReason = "timeout"
	KillOutputLimit KillReason = "output_limit"
	KillCancelled   KillReason = "cancelled"
)

// Phase describes one process invocation (compile or run) inside a job
// workspace. Argv paths are relative to the workspace directory.
type Phase struct {
	Name        string
	Language    Language
	Workspace   string
	Argv        []string
	Timeout     time.Duration
	OutputLimit int
}

// Outcome is what a Sandbox observed while executing a Phase.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Killed   KillReason
	Duration time.Duration
}

// Sandbox runs a single phase and returns only after the process has fully
// exited or been reaped. A non-nil error means the phase could not be
// started at all.
type Sandbox interface {
	Exec(ctx context.Context, phase Phase) (Outcome, error)
}
