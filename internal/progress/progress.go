package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediabot/internal/config"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces progress records in Redis.
const KeyPrefix = "media-bot:progress:"

// Record is the ephemeral last-known state of a running stage. Only the
// job's driver writes the record, so last-writer-wins is safe.
type Record struct {
	JobID      string    `json:"jobId"`
	Downloader string    `json:"downloader,omitempty"`
	Stage      string    `json:"stage"`
	Progress   float64   `json:"progress"`
	Speed      int64     `json:"speed,omitempty"`
	ETA        int64     `json:"eta,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store keeps per-job progress records in Redis with a TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to Redis using REDIS_URL and verifies the connection.
func NewStore(ctx context.Context) (*Store, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client, ttl: config.ProgressTTL}, nil
}

// NewStoreWithClient creates a store with an existing Redis client (for testing).
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(jobID string) string { return KeyPrefix + jobID }

// Set overwrites the job's progress record and refreshes its TTL.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if s.client == nil {
		return fmt.Errorf("progress store is not connected")
	}
	rec.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}
	if err := s.client.Set(ctx, key(rec.JobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write progress record: %w", err)
	}
	return nil
}

// Get returns the job's progress record, or nil if none exists.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if s.client == nil {
		return nil, fmt.Errorf("progress store is not connected")
	}
	payload, err := s.client.Get(ctx, key(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress record: %w", err)
	}
	return &rec, nil
}

// Delete removes the job's progress record. Called on terminal job states.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if s.client == nil {
		return fmt.Errorf("progress store is not connected")
	}
	if err := s.client.Del(ctx, key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete progress record: %w", err)
	}
	return nil
}

// Ping reports ephemeral-store reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("progress store is not connected")
	}
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
