package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dontdude/coderoom/internal/domain"
)

// Admission decides what Publish does when the queue is full.
type Admission string

const (
	// AdmissionReject fails Publish immediately with domain.ErrQueueFull.
	AdmissionReject Admission = "reject"
	// AdmissionWait blocks Publish for up to the admission timeout.
	AdmissionWait Admission = "wait"
)

// ParseAdmission validates an admission policy name.
func ParseAdmission(s string) (Admission, error) {
	switch a := Admission(s); a {
	case AdmissionReject, AdmissionWait:
		return a, nil
	}
	return "", fmt.Errorf("unknown admission policy %q", s)
}

// resultBuffer is the per-subscriber result backlog.
const resultBuffer = 64

type resultSub struct {
	ch   chan domain.JobResult
	done <-chan struct{}
}

// MemoryQueue implements domain.JobQueue with a bounded in-process channel.
// It is the default backend when the workers are embedded in the server.
type MemoryQueue struct {
	jobs      chan domain.Job
	admission Admission
	wait      time.Duration

	mu      sync.RWMutex
	subs    map[int]resultSub
	nextSub int
}

// Ensure MemoryQueue satisfies the interface
var _ domain.JobQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding at most size waiting jobs.
func NewMemoryQueue(size int, admission Admission, wait time.Duration) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{
		jobs:      make(chan domain.Job, size),
		admission: admission,
		wait:      wait,
		subs:      make(map[int]resultSub),
	}
}

// Publish enqueues job according to the admission policy.
func (q *MemoryQueue) Publish(ctx context.Context, job domain.Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
	}
	if q.admission != AdmissionWait {
		return domain.ErrQueueFull
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case q.jobs <- job:
		return nil
	case <-timer.C:
		return domain.ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the shared job channel. Any number of workers may
// receive from it; it is never closed, so receivers stop on their own ctx.
func (q *MemoryQueue) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	return q.jobs, nil
}

// Acknowledge is a no-op: a received job has already left the channel.
func (q *MemoryQueue) Acknowledge(ctx context.Context, job domain.Job) error {
	return nil
}

// Broadcast delivers result to every live result subscriber.
func (q *MemoryQueue) Broadcast(ctx context.Context, result domain.JobResult) error {
	q.mu.RLock()
	subs := make([]resultSub, 0, len(q.subs))
	for _, s := range q.subs {
		subs = append(subs, s)
	}
	q.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- result:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SubscribeResults streams every broadcast result until ctx is done, then
// closes the channel.
func (q *MemoryQueue) SubscribeResults(ctx context.Context) (<-chan domain.JobResult, error) {
	in := make(chan domain.JobResult, resultBuffer)

	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = resultSub{ch: in, done: ctx.Done()}
	q.mu.Unlock()

	outCh := make(chan domain.JobResult)
	go func() {
		defer close(outCh)
		defer func() {
			q.mu.Lock()
			delete(q.subs, id)
			q.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case r := <-in:
				select {
				case outCh <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return outCh, nil
}

// Len returns the number of jobs waiting for a worker.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
