// Package session holds the server-side session value handed to the backup
// subsystem by the hosting container. The backup layer reads the access
// flags and rewrites the identifier on relocation; it never creates or
// invalidates sessions.
package session

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxInactive is the idle interval after which a session expires when
// the container does not configure one.
const DefaultMaxInactive = 30 * time.Minute

// Session is a mutable per-client session. All methods are safe for
// concurrent use; the container and pooled backup tasks may touch the same
// session.
type Session struct {
	mu sync.RWMutex

	id           string
	createdAt    time.Time
	lastAccessed time.Time
	maxInactive  time.Duration
	isNew        bool

	accessedSinceLastCheck bool
	attributesAccessed     bool
	authChanged            bool

	attrs map[string]any

	expirationUpdate atomic.Bool
}

// New creates a session with a fresh base identifier (no node suffix yet)
// and the default max-inactive interval.
func New(now time.Time) *Session {
	return &Session{
		id:           NewBaseID(),
		createdAt:    now,
		lastAccessed: now,
		maxInactive:  DefaultMaxInactive,
		isNew:        true,
		attrs:        make(map[string]any),
	}
}

// NewBaseID generates a dash-free base identifier so the node suffix is the
// only dash-separated component of the full session id.
func NewBaseID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ID returns the current session identifier.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetID rewrites the session identifier. Called by the container at creation
// and by the backup layer on relocation.
func (s *Session) SetID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Touch records a request hitting the session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastAccessed = now
	s.accessedSinceLastCheck = true
	s.mu.Unlock()
}

// SetAttribute stores an attribute and marks the attribute set dirty.
func (s *Session) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.attributesAccessed = true
	s.mu.Unlock()
}

// Attribute returns the attribute stored under key and marks the attribute
// set accessed.
func (s *Session) Attribute(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributesAccessed = true
	v, ok := s.attrs[key]
	return v, ok
}

// Attributes returns a copy of the attribute map without touching flags.
func (s *Session) Attributes() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// SetAuthenticationChanged marks a principal change since the last backup.
func (s *Session) SetAuthenticationChanged() {
	s.mu.Lock()
	s.authChanged = true
	s.mu.Unlock()
}

// WasAccessedSinceLastCheck reports and clears the access flag. The check
// itself consumes the flag, so an untouched session answers false on the
// next backup cycle.
func (s *Session) WasAccessedSinceLastCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	accessed := s.accessedSinceLastCheck
	s.accessedSinceLastCheck = false
	return accessed
}

// AttributesAccessedSinceLastBackup reports whether attributes were touched.
func (s *Session) AttributesAccessedSinceLastBackup() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attributesAccessed
}

// AuthenticationChanged reports whether authentication changed since the
// last backup.
func (s *Session) AuthenticationChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authChanged
}

// IsNew reports whether the session has never been backed up.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isNew
}

// MarkBackedUp clears the dirty flags after a successful write.
func (s *Session) MarkBackedUp() {
	s.mu.Lock()
	s.attributesAccessed = false
	s.authChanged = false
	s.isNew = false
	s.mu.Unlock()
}

// MaxInactive returns the session's idle expiry interval.
func (s *Session) MaxInactive() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxInactive
}

// SetMaxInactive configures the idle expiry interval.
func (s *Session) SetMaxInactive(d time.Duration) {
	s.mu.Lock()
	s.maxInactive = d
	s.mu.Unlock()
}

// RemainingTTL computes how long the remote copy should live: max-inactive
// minus the time idle so far. A fully idle or stale session still gets the
// full interval, because a session being written is live by definition.
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idle := now.Sub(s.lastAccessed)
	remaining := s.maxInactive - idle
	if remaining < time.Second {
		return s.maxInactive
	}
	return remaining
}

// BeginExpirationUpdate claims the session-local expiration-touch slot.
// It returns false when another touch is already in flight.
func (s *Session) BeginExpirationUpdate() bool {
	return s.expirationUpdate.CompareAndSwap(false, true)
}

// EndExpirationUpdate releases the expiration-touch slot.
func (s *Session) EndExpirationUpdate() {
	s.expirationUpdate.Store(false)
}

// Metadata captures the serialized session header.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Metadata{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
		MaxInactive:  s.maxInactive,
	}
}

// Restore rebuilds a session from decoded metadata and attributes. The
// restored session is not new and carries clean flags.
func Restore(meta Metadata, attrs map[string]any) *Session {
	if attrs == nil {
		attrs = make(map[string]any)
	}
	maxInactive := meta.MaxInactive
	if maxInactive <= 0 {
		maxInactive = DefaultMaxInactive
	}
	return &Session{
		id:           meta.ID,
		createdAt:    meta.CreatedAt,
		lastAccessed: meta.LastAccessed,
		maxInactive:  maxInactive,
		attrs:        attrs,
	}
}

// Metadata is the session header stored next to the attribute bytes.
type Metadata struct {
	ID           string        `json:"id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	MaxInactive  time.Duration `json:"max_inactive"`
}
