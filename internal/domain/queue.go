package domain

import "context"

// JobQueue defines the contract for the execution admission queue.
// It decouples the gateway from the backend carrying jobs to workers
// (an in-process channel or Redis Streams).
type JobQueue interface {
	// Publish enqueues a job for processing. It returns ErrQueueFull when
	// the admission policy rejects the job.
	Publish(ctx context.Context, job Job) error

	// Subscribe returns a read-only channel that streams jobs from the queue.
	// It handles the details of consumer groups internally.
	Subscribe(ctx context.Context) (<-chan Job, error)

	// Acknowledge confirms that a job has been processed.
	Acknowledge(ctx context.Context, job Job) error

	// Broadcast publishes a job's result to the result feed.
	Broadcast(ctx context.Context, result JobResult) error

	// SubscribeResults returns a channel that streams results from all workers.
	SubscribeResults(ctx context.Context) (<-chan JobResult, error)
}
