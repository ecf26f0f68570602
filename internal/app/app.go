// Package app assembles the queue and execution stack from configuration.
// It is shared by the server, worker and producer binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/coderoom/internal/config"
	"github.com/dontdude/coderoom/internal/domain"
	"github.com/dontdude/coderoom/internal/executor"
	"github.com/dontdude/coderoom/internal/platform/queue"
	"github.com/dontdude/coderoom/internal/worker"
)

// Queue is an opened job queue.
type Queue struct {
	domain.JobQueue
	// Redis is set when the queue is backed by Redis Streams.
	Redis *queue.RedisQueue

	client *redis.Client
}

// Close releases the Redis connection, if any.
func (q *Queue) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

// Distributed reports whether jobs can be consumed by other processes.
func (q *Queue) Distributed() bool {
	return q.Redis != nil
}

// OpenQueue connects the queue backend named by cfg.Queue.Backend.
func OpenQueue(ctx context.Context, cfg *config.Config) (*Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		client, err := queue.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		rq := queue.NewRedisQueue(client, cfg.RedisQueue())
		slog.Info("Using Redis queue", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
		return &Queue{JobQueue: rq, Redis: rq, client: client}, nil
	case "memory", "":
		admission, err := queue.ParseAdmission(cfg.Worker.Admission)
		if err != nil {
			return nil, err
		}
		mq := queue.NewMemoryQueue(cfg.Worker.QueueSize, admission, cfg.Worker.AdmissionTimeout)
		slog.Info("Using in-memory queue", "size", cfg.Worker.QueueSize, "admission", admission)
		return &Queue{JobQueue: mq}, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

// Workers is a running worker pool and the sandbox behind it.
type Workers struct {
	pool         *worker.Pool
	closeSandbox func() error
}

// StartWorkers builds the scheduler for cfg.Executor.Backend and starts
// cfg.Worker.Concurrency workers consuming q.
func StartWorkers(ctx context.Context, cfg *config.Config, q domain.JobQueue) (*Workers, error) {
	sb, closeSandbox, err := executor.NewSandbox(ctx, cfg.Executor.Backend, cfg.DockerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	if cfg.Executor.Backend != executor.BackendDocker {
		slog.Warn("Running jobs as host processes without isolation", "backend", cfg.Executor.Backend)
	}

	sched := executor.NewScheduler(sb, executor.NewPolicies(cfg.Limits()), cfg.Executor.WorkspaceRoot)
	pool := worker.NewPool(cfg.Worker.Concurrency, q, sched)
	if err := pool.Start(ctx); err != nil {
		closeSandbox()
		return nil, err
	}
	return &Workers{pool: pool, closeSandbox: closeSandbox}, nil
}

// Stop waits for in-flight jobs and releases the sandbox.
func (w *Workers) Stop() {
	w.pool.Stop()
	if err := w.closeSandbox(); err != nil {
		slog.Warn("Failed to close sandbox", "error", err)
	}
}
