package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	// waitingPrefix namespaces the per-priority waiting lists.
	waitingPrefix = "media-bot:waiting:"
	// BlockTimeout is how long Dequeue will wait for a submission.
	BlockTimeout = 5 * time.Second
)

// dequeueOrder lists the waiting keys in the order BRPOP should try them.
var dequeueOrder = []string{
	waitingPrefix + string(store.PriorityHigh),
	waitingPrefix + string(store.PriorityNormal),
	waitingPrefix + string(store.PriorityLow),
}

// Submission is the message the API pushes for the worker. The job itself
// lives in the repository; the queue only carries its identity.
type Submission struct {
	JobID      string    `json:"jobId"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue is the Redis submission queue between the API and the worker.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to Redis using REDIS_URL and verifies the connection.
func NewQueue(ctx context.Context) (*Queue, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("submission queue initialized", "addr", opts.Addr)
	return &Queue{client: client}, nil
}

// NewQueueWithClient creates a queue with an existing Redis client (for testing).
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func waitingKey(p store.Priority) string {
	switch p {
	case store.PriorityHigh, store.PriorityNormal, store.PriorityLow:
		return waitingPrefix + string(p)
	default:
		return waitingPrefix + string(store.PriorityNormal)
	}
}

// Enqueue pushes a submission onto its priority's waiting list.
func (q *Queue) Enqueue(ctx context.Context, jobID string, priority store.Priority) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	sub := Submission{
		JobID:      jobID,
		Priority:   string(priority),
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}
	if err := q.client.LPush(ctx, waitingKey(priority), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	slog.Info("job enqueued", "job_id", jobID, "priority", string(priority))
	return nil
}

// Dequeue blocks for up to BlockTimeout and returns the next submission,
// draining higher-priority lists first. A nil submission means timeout.
func (q *Queue) Dequeue(ctx context.Context) (*Submission, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	result, err := q.client.BRPop(ctx, BlockTimeout, dequeueOrder...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid BRPOP result: %v", result)
	}

	var sub Submission
	if err := json.Unmarshal([]byte(result[1]), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
	}
	slog.Info("job dequeued", "job_id", sub.JobID, "priority", sub.Priority)
	return &sub, nil
}

// Depth returns the total number of waiting submissions across priorities.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, fmt.Errorf("queue is not connected")
	}

	var total int64
	for _, key := range dequeueOrder {
		n, err := q.client.LLen(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to measure queue depth: %w", err)
		}
		total += n
	}
	return total, nil
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}
