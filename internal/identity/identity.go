// Package identity persists the long-lived anonymous visitor id and the
// session-scoped id attached to every tracked event.
package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
)

// Storage keys owned by the identity store.
const (
	KeyVisitorID = "identity.visitor_id"
	KeySessionID = "identity.session_id"
)

// Identity is the visitor/session pair stamped on events.
type Identity struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
}

// Store holds the identity resolved at construction. Reads never touch
// storage again and never mutate the ids.
type Store struct {
	identity Identity
	degraded bool
}

// newID is swapped in tests.
var newID = uuid.NewString

// LoadOrCreate resolves both ids once. An id missing from its scope is
// generated and written back before returning. If a scope cannot be read
// or written the id lives in memory only for this process and the store
// reports Degraded.
func LoadOrCreate(ctx context.Context, durable, session kv.Store) *Store {
	s := &Store{}

	visitorID, ok := loadOrCreate(ctx, durable, KeyVisitorID)
	if !ok {
		s.degraded = true
	}
	sessionID, ok := loadOrCreate(ctx, session, KeySessionID)
	if !ok {
		s.degraded = true
	}

	s.identity = Identity{VisitorID: visitorID, SessionID: sessionID}
	return s
}

// loadOrCreate returns the stored id for key, creating it when absent.
// ok is false when storage was unavailable and the id is memory-only.
func loadOrCreate(ctx context.Context, store kv.Store, key string) (string, bool) {
	if store == nil {
		slog.Warn("Identity storage not configured, using in-memory id", "key", key)
		return newID(), false
	}

	raw, err := store.Get(ctx, key)
	if err == nil && len(raw) > 0 {
		return string(raw), true
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		slog.Warn("Identity storage unavailable, using in-memory id", "key", key, "error", err)
		return newID(), false
	}

	id := newID()
	if err := store.Set(ctx, key, []byte(id)); err != nil {
		slog.Warn("Failed to persist identity, continuing in-memory", "key", key, "error", err)
		return id, false
	}
	return id, true
}

// VisitorID returns the stable anonymous visitor id.
func (s *Store) VisitorID() string { return s.identity.VisitorID }

// SessionID returns the id of the current session.
func (s *Store) SessionID() string { return s.identity.SessionID }

// Identity returns both ids by value.
func (s *Store) Identity() Identity { return s.identity }

// Degraded reports whether either id could not be persisted.
func (s *Store) Degraded() bool { return s.degraded }
