// Package coord implements the shared coordination store on Redis. It holds
// the active-jobs set, per-user job sets, per-book cooldown keys, the durable
// priority queue and aggregate stats. All mutations are atomic single-key
// operations or small Lua scripts so multiple processes can share the store.
package coord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the orchestrator's coordination schema.
type Store struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis using a redis:// URL.
func New(redisURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Store{
		rdb:    redis.NewClient(opts),
		logger: logger.With("component", "coord"),
	}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, logger: logger.With("component", "coord")}
}

// Ping verifies connectivity to the coordination store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("coordination store unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
