// Package redisstore mirrors job stop requests into Redis so they survive a
// restart of the process reading them.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces stop flag keys.
const DefaultPrefix = "harvester:stop:"

// Config configures StopFlags.
type Config struct {
	Addr   string
	Prefix string
	// TTL bounds how long a raised flag outlives its job.
	TTL time.Duration
}

type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// StopFlags implements harvest.StopFlags on top of Redis keys.
type StopFlags struct {
	client client
	prefix string
	ttl    time.Duration
}

// New connects to cfg.Addr.
func New(cfg Config) (*StopFlags, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	return newWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr}), cfg), nil
}

func newWithClient(c client, cfg Config) *StopFlags {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StopFlags{client: c, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *StopFlags) Close() error {
	return s.client.Close()
}

// Raise marks jobID as stop-requested.
func (s *StopFlags) Raise(ctx context.Context, jobID string) error {
	if err := s.client.Set(ctx, s.prefix+jobID, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("raise stop flag %s: %w", jobID, err)
	}
	return nil
}

// Raised reports whether a stop flag exists for jobID.
func (s *StopFlags) Raised(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+jobID).Result()
	if err != nil {
		return false, fmt.Errorf("read stop flag %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Clear removes the stop flag for jobID.
func (s *StopFlags) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.prefix+jobID).Err(); err != nil {
		return fmt.Errorf("clear stop flag %s: %w", jobID, err)
	}
	return nil
}
