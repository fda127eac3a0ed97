// Package kv wraps the shared Redis connection used by the rate limiter,
// idempotency cache, and stream presence tracking.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store owns the Redis client shared across subsystems. Subsystems that
// need raw command access hold the client directly via Client().
type Store struct {
	rdb *redis.Client
}

// Open connects to the Redis instance described by redisURL
// (redis://host:port/db). The connection is lazy; call Ping to verify.
func Open(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	return &Store{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Client exposes the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
