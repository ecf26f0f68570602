package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/coderoom/internal/domain"
)

// errLostJob is reported for a job whose worker stopped acknowledging it.
var errLostJob = errors.New("worker lost the job")

// recoveryConsumer is the consumer that stale jobs are claimed to.
const recoveryConsumer = "recovery-agent"

// RunRecovery polls the pending entries list for jobs idle longer than
// maxAge. Jobs are never retried: each one gets a Failed result so its
// requester is not left waiting, and is then removed from the stream.
func (r *RedisQueue) RunRecovery(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting Redis recovery routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.recoverStale(ctx, maxAge)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Recovery routine failed", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Info("Recovered stale jobs", "count", n)
			}
		}
	}
}

// recoverStale runs one XAUTOCLAIM sweep and returns how many jobs it failed.
func (r *RedisQueue) recoverStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := r.ensureGroup(ctx); err != nil {
		return 0, err
	}

	total := 0
	start := "-" // Start from beginning of stream
	for {
		// We claim batches of 10
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: recoveryConsumer,
		}).Result()
		if err != nil {
			return total, err
		}

		for _, msg := range messages {
			job, err := decodeJob(msg)
			if err != nil {
				slog.Error("Dropping malformed stale job", "msgID", msg.ID, "error", err)
			} else {
				slog.Warn("Stale job claimed by recovery agent", "jobID", job.ID, "msgID", msg.ID)
				res := domain.JobResult{JobID: job.ID, Result: domain.FailedResult(errLostJob)}
				if err := r.Broadcast(ctx, res); err != nil {
					return total, err
				}
				total++
			}
			if err := r.remove(ctx, msg.ID); err != nil {
				return total, err
			}
		}

		if len(messages) == 0 || next == "0-0" || next == "" {
			return total, nil
		}
		start = next
	}
}
