// Package cache defines the remote cache store consumed by the backup
// subsystem. A Store is an opaque key/value client for a single cache node;
// the node directory owns one Store per configured node.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors. ErrUnreachable marks transport-level failures (the node
// cannot be talked to) and is the only error class that triggers failover;
// ErrRejected marks a reachable node refusing the operation.
var (
	ErrNotFound    = errors.New("cache: not found")
	ErrUnreachable = errors.New("cache: node unreachable")
	ErrRejected    = errors.New("cache: store rejected operation")
)

// Store is the per-node key/value client.
type Store interface {
	// Set writes data under key with the supplied time-to-live.
	Set(ctx context.Context, key string, ttl time.Duration, data []byte) error
	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the node is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Unreachable reports whether err is a transport-level failure that should
// trigger failover node selection.
func Unreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
