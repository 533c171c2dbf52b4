// Package control implements the shared-resource primitives every process
// coordinates through: distributed rate limiting, token buckets, locks,
// cache-aside and a FIFO hand-off queue. All state lives in Redis and every
// multi-step mutation runs as a single Lua script.
package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"solana-signal-lab/internal/domain"
)

// DefaultOpTimeout bounds each store round trip when the caller's context has no earlier deadline.
const DefaultOpTimeout = 2 * time.Second

// Options configures a Store.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string        // namespace for every key
	OpTimeout time.Duration // per-operation timeout (default: DefaultOpTimeout)
	Logger    zerolog.Logger
}

// Store is the namespaced handle to the shared key-value store.
type Store struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	log       zerolog.Logger
}

// New creates a Store with its own client.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewWithClient(client, opts.Prefix, opts.OpTimeout, opts.Logger)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, opTimeout time.Duration, log zerolog.Logger) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Store{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, ":"),
		opTimeout: opTimeout,
		log:       log.With().Str("component", "control").Logger(),
	}
}

// Key joins parts under the store prefix.
func (s *Store) Key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Client exposes the underlying client for pipelines that span primitives.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
