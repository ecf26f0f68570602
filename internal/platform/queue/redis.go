package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dontdude/coderoom/internal/domain"
)

// RedisConfig names the Redis keys the queue uses.
type RedisConfig struct {
	Stream         string
	Group          string
	ResultsChannel string
	// MaxLen bounds the number of unacknowledged jobs; 0 means unbounded.
	MaxLen int64
}

// RedisQueue implements domain.JobQueue using Redis Streams for jobs and
// Pub/Sub for results, so workers can run in separate processes.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// Dial connects to Redis at addr and verifies the connection with a Ping.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// NewRedisQueue returns a new Redis-backed queue adapter.
func NewRedisQueue(client *redis.Client, cfg RedisConfig) *RedisQueue {
	return &RedisQueue{client: client, cfg: cfg}
}

// Publish enqueues a job to the Redis stream using XADD (Producer).
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	if r.cfg.MaxLen > 0 {
		n, err := r.client.XLen(ctx, r.cfg.Stream).Result()
		if err != nil {
			return fmt.Errorf("redis xlen failed: %w", err)
		}
		if n >= r.cfg.MaxLen {
			return domain.ErrQueueFull
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// We use "*" Id to let Redis generate a timestamp-based ID.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]interface{}{
			"job": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// ensureGroup creates the consumer group, starting from the beginning of the
// stream so jobs published before the first worker are not skipped.
func (r *RedisQueue) ensureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// consumerName is unique per subscription (e.g. hostname-pid-1a2b3c4d).
func consumerName() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Subscribe returns a channel of jobs using XREADGROUP (Consumer). The
// channel is closed when ctx is done.
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	if err := r.ensureGroup(ctx); err != nil {
		return nil, err
	}

	outCh := make(chan domain.Job)
	consumer := consumerName()

	go func() {
		defer close(outCh)

		for ctx.Err() == nil {
			// Block for 2s at a time so ctx is checked regularly.
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    r.cfg.Group,
				Consumer: consumer,
				Streams:  []string{r.cfg.Stream, ">"}, // ">" means new messages
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("Redis read error", "error", err)
				time.Sleep(1 * time.Second) // Backoff
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					job, err := decodeJob(msg)
					if err != nil {
						slog.Error("Dropping malformed job", "msgID", msg.ID, "error", err)
						r.remove(ctx, msg.ID)
						continue
					}
					select {
					case outCh <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return outCh, nil
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	val, ok := msg.Values["job"].(string)
	if !ok {
		return domain.Job{}, errors.New("missing job field")
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.Job{}, err
	}
	// Capture the Redis Stream ID so we can ACK later
	job.RawID = msg.ID
	return job, nil
}

// Acknowledge confirms processing with XACK and drops the entry from the
// stream so its length tracks outstanding work.
func (r *RedisQueue) Acknowledge(ctx context.Context, job domain.Job) error {
	if job.RawID == "" {
		return nil
	}
	return r.remove(ctx, job.RawID)
}

func (r *RedisQueue) remove(ctx context.Context, msgID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, r.cfg.Stream, r.cfg.Group, msgID)
		pipe.XDel(ctx, r.cfg.Stream, msgID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ack failed: %w", err)
	}
	return nil
}

// Broadcast publishes the execution result to the results channel.
func (r *RedisQueue) Broadcast(ctx context.Context, result domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return r.client.Publish(ctx, r.cfg.ResultsChannel, data).Err()
}

// SubscribeResults subscribes to the results channel and streams results to
// a Go channel until ctx is done.
func (r *RedisQueue) SubscribeResults(ctx context.Context) (<-chan domain.JobResult, error) {
	pubsub := r.client.Subscribe(ctx, r.cfg.ResultsChannel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to results: %w", err)
	}

	outCh := make(chan domain.JobResult)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var result domain.JobResult
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					slog.Error("Failed to unmarshal result", "error", err)
					continue
				}

				select {
				case outCh <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}
