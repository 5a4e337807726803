// Package memory implements cache.Store in-memory; intended for tests and
// local development. Entries honour TTLs against an injectable clock, and the
// store can simulate an unreachable or slow node.
package memory

import (
	"context"
	"sync"
	"time"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/clock"
)

// Store implements cache.Store backed by a map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clk     clock.Clock

	down    bool
	latency time.Duration
	closed  bool
}

type entry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// New returns a ready to use in-memory store.
func New() *Store {
	return NewWithClock(clock.Real{})
}

// NewWithClock returns an in-memory store whose TTL handling follows clk.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{entries: make(map[string]entry), clk: clk}
}

// SetDown toggles simulated unreachability. While down, every operation
// returns cache.ErrUnreachable.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetLatency injects a fixed delay before every operation completes.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	now := s.clk.Now()
	for _, e := range s.entries {
		if e.expiresAt.IsZero() || e.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (s *Store) gate(ctx context.Context) error {
	s.mu.RLock()
	down := s.down || s.closed
	latency := s.latency
	s.mu.RUnlock()
	if latency > 0 {
		select {
		case <-s.clk.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if down {
		return cache.ErrUnreachable
	}
	return nil
}

// Set writes data under key with the supplied TTL.
func (s *Store) Set(ctx context.Context, key string, ttl time.Duration, data []byte) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	e := entry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		e.expiresAt = s.clk.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Get returns the bytes stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.gate(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(s.clk.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Ping verifies the simulated node is up.
func (s *Store) Ping(ctx context.Context) error {
	return s.gate(ctx)
}

// Close marks the store closed; further operations fail as unreachable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	return nil
}
