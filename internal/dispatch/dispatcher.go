// Package dispatch submits jobs to the queue and routes results from the
// result feed back to whoever submitted them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dontdude/coderoom/internal/domain"
)

// Callback receives the result of a submitted job exactly once.
type Callback func(domain.JobResult)

type pendingJob struct {
	fn    Callback
	timer *time.Timer
}

// Dispatcher tracks submitted jobs until their results arrive. Callers
// never block on execution: Submit returns as soon as the job is queued.
type Dispatcher struct {
	queue domain.JobQueue
	// queueTimeout bounds how long a job may wait for a worker.
	queueTimeout time.Duration
	// timeout is the backstop for results lost with a dead worker.
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingJob
}

// New creates a Dispatcher. Every submitted job must be started by a worker
// within queueTimeout or it is answered with domain.ErrJobExpired instead of
// running. A job whose result has not arrived within resultTimeout resolves
// to a Failed result; resultTimeout must exceed queueTimeout plus the
// longest execution, so it only fires when a result was lost. Zero disables
// either bound.
func New(queue domain.JobQueue, queueTimeout, resultTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		queueTimeout: queueTimeout,
		timeout:      resultTimeout,
		pending:      make(map[string]*pendingJob),
	}
}

// Start subscribes to the result feed and routes results until ctx is done.
// It must be called before the first Submit.
func (d *Dispatcher) Start(ctx context.Context) error {
	results, err := d.queue.SubscribeResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-results:
				if !ok {
					return
				}
				d.resolve(r.JobID, r.Result)
			}
		}
	}()
	return nil
}

// Submit assigns the job an id if it has none, registers fn and enqueues
// the job. On error fn is never called.
func (d *Dispatcher) Submit(ctx context.Context, job domain.Job, fn Callback) (domain.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if d.queueTimeout > 0 && job.StartBy.IsZero() {
		job.StartBy = job.CreatedAt.Add(d.queueTimeout)
	}

	p := &pendingJob{fn: fn}
	d.mu.Lock()
	d.pending[job.ID] = p
	if d.timeout > 0 {
		id := job.ID
		p.timer = time.AfterFunc(d.timeout, func() {
			slog.Warn("Job result timed out", "jobID", id, "timeout", d.timeout)
			d.resolve(id, domain.FailedResult(fmt.Errorf("%w after %s", domain.ErrResultTimeout, d.timeout)))
		})
	}
	d.mu.Unlock()

	if err := d.queue.Publish(ctx, job); err != nil {
		d.take(job.ID)
		return job, err
	}
	slog.Debug("Job submitted", "jobID", job.ID, "language", job.Language, "room", job.Room)
	return job, nil
}

// Wait submits job and blocks until its result arrives or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, job domain.Job) (domain.Result, error) {
	done := make(chan domain.Result, 1)
	job, err := d.Submit(ctx, job, func(r domain.JobResult) { done <- r.Result })
	if err != nil {
		return domain.Result{}, err
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		d.take(job.ID)
		return domain.Result{}, ctx.Err()
	}
}

// Pending returns the number of jobs awaiting a result.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) take(id string) *pendingJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// resolve delivers res to the job's callback. Results for unknown jobs
// belong to another server instance sharing the feed and are ignored.
func (d *Dispatcher) resolve(id string, res domain.Result) {
	p := d.take(id)
	if p == nil {
		return
	}
	p.fn(domain.JobResult{JobID: id, Result: res})
}
