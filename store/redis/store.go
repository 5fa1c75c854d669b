package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/steplog"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/workflow"
)

// Compile-time interface checks.
var (
	_ workflow.Store = (*Store)(nil)
	_ trigger.Store  = (*Store)(nil)
	_ steplog.Store  = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix. Defaults to "courier:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	keys   keys
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: defaultPrefix},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the Lua scripts into the server script cache. Redis has no
// schema; scripts are reloaded on demand if the cache is flushed.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range allScripts {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getJSON decodes the JSON value at key into v. It returns goredis.Nil
// when the key does not exist.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// page applies offset and limit to an already ordered slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
