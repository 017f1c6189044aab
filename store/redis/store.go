package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/dlq"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/tenant"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ tenant.Store    = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ conveyor.Storer = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate has no schema to apply. It loads the Lua scripts into the server
// script cache so the first claim after a deploy or a SCRIPT FLUSH does not
// fall back from EVALSHA to EVAL.
func (s *Store) Migrate(ctx context.Context) error {
	for name, sc := range scripts {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("%w: load %s script: %w", conveyor.ErrMigrationFailed, name, err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: ping: %w", err)
	}
	return nil
}

// Close is a no-op. The caller owns the Redis client.
func (s *Store) Close() error { return nil }
