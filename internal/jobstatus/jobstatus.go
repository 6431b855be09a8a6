// Package jobstatus remembers job outcomes after the job row is removed from
// the queue.
package jobstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "job:status:"
	defaultTTL      = 24 * time.Hour
)

// ErrNotFound is returned when no status is cached for a job
var ErrNotFound = errors.New("job status not found")

// Status is the externally visible state of a job
type Status struct {
	JobID          string    `json:"job_id"`
	JobType        string    `json:"job_type"`
	UserID         string    `json:"user_id,omitempty"`
	State          string    `json:"state"`
	Error          string    `json:"error,omitempty"`
	CorrelationRef string    `json:"correlation_ref,omitempty"`
	URLs           []string  `json:"urls,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Cache stores job statuses
type Cache interface {
	Set(ctx context.Context, status Status) error
	Get(ctx context.Context, jobID string) (*Status, error)
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// RedisCache stores statuses as JSON strings with a TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Set(ctx context.Context, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal job status: %w", err)
	}

	if err := c.client.Set(ctx, statusKeyPrefix+status.JobID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache job status: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, jobID string) (*Status, error) {
	data, err := c.client.Get(ctx, statusKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job status: %w", err)
	}
	return &status, nil
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache is an in-process Cache without expiry
type MemoryCache struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{statuses: make(map[string]Status)}
}

func (c *MemoryCache) Set(ctx context.Context, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[status.JobID] = status
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, jobID string) (*Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}
