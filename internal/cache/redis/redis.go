// Package redis implements cache.Store on top of a single Redis node using
// github.com/redis/go-redis. Transport failures surface as
// cache.ErrUnreachable so the backup layer can fail over; error replies from
// a reachable node surface as cache.ErrRejected.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pkt.systems/sessiond/internal/cache"
)

// Config configures the per-node client.
type Config struct {
	// Addr is the node endpoint, host:port.
	Addr string
	// DialTimeout bounds connection establishment. Zero uses the driver default.
	DialTimeout time.Duration
	// OpTimeout bounds individual read/write commands. Zero uses the driver default.
	OpTimeout time.Duration
	// Password is optional.
	Password string
	// DB selects the logical database.
	DB int
}

// Store implements cache.Store for one Redis node.
type Store struct {
	client *redis.Client
}

// New returns a Store talking to the node at cfg.Addr. No connection is made
// until the first operation; use Ping to probe reachability.
func New(cfg Config) *Store {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opts.ReadTimeout = cfg.OpTimeout
		opts.WriteTimeout = cfg.OpTimeout
	}
	return &Store{client: redis.NewClient(opts)}
}

// NewFromURL returns a Store for a redis:// URL.
func NewFromURL(rawURL string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// Set writes data under key with the supplied TTL.
func (s *Store) Set(ctx context.Context, key string, ttl time.Duration, data []byte) error {
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Get returns the bytes stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Ping probes the node.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// classify maps driver errors onto the cache error taxonomy. Only transport
// failures may trigger failover; an error reply from a live node must not.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return cache.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", cache.ErrUnreachable, err)
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%w: %w", cache.ErrRejected, err)
	}
	// Anything else is a dial/read/write failure on the socket.
	return fmt.Errorf("%w: %w", cache.ErrUnreachable, err)
}
