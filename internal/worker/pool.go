// Package worker consumes jobs from a queue with a fixed number of
// goroutines, bounding how many programs run at once.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

// publishTimeout bounds result delivery and acknowledgement per job.
const publishTimeout = 5 * time.Second

// Pool implements a fixed-size worker pool pattern.
type Pool struct {
	// workerCount determines how many jobs can execute concurrently.
	workerCount int
	queue       domain.JobQueue
	runner      domain.JobRunner

	cancel context.CancelFunc
	// wg tracks active workers to ensure graceful shutdown.
	wg sync.WaitGroup
}

// NewPool initializes the worker pool with a fixed concurrency limit.
func NewPool(concurrency int, queue domain.JobQueue, runner domain.JobRunner) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		workerCount: concurrency,
		queue:       queue,
		runner:      runner,
	}
}

// Start subscribes to the queue and spawns the workers. It returns
// immediately; workers run until ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	jobs, err := p.queue.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to jobs: %w", err)
	}
	p.cancel = cancel

	slog.Info("Starting worker pool", "concurrency", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i, jobs)
	}
	return nil
}

// Stop signals the workers to exit and blocks until they have. A job that
// is already executing runs to completion and its result is still published.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool, waiting for tasks to drain...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

// worker is the core logic that runs inside a goroutine.
func (p *Pool) worker(ctx context.Context, id int, jobs <-chan domain.Job) {
	defer p.wg.Done()
	slog.Debug("Worker started", "workerID", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker stopped", "workerID", id)
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.process(ctx, id, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int, job domain.Job) {
	slog.Debug("Processing job", "workerID", id, "jobID", job.ID)

	var res domain.Result
	if job.Expired(time.Now()) {
		slog.Warn("Dropping expired job", "workerID", id, "jobID", job.ID, "startBy", job.StartBy)
		res = domain.FailedResult(domain.ErrJobExpired)
	} else {
		// Shutdown does not abort a running job; its own timeouts bound it.
		res = p.runner.Execute(context.WithoutCancel(ctx), job)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.queue.Broadcast(pubCtx, domain.JobResult{JobID: job.ID, Result: res}); err != nil {
		slog.Error("Failed to publish result", "jobID", job.ID, "error", err)
	}
	if err := p.queue.Acknowledge(pubCtx, job); err != nil {
		slog.Error("Failed to acknowledge job", "jobID", job.ID, "error", err)
	}
}
