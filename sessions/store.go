package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound indicates the id was never issued by this store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid indicates the session exists but is no longer active.
	ErrSessionInvalid = errors.New("session is not active")
	// ErrSessionExists is returned by Create when the id is already taken.
	ErrSessionExists = errors.New("session already exists")
)

// Store persists sessions and serializes their state transitions.
//
// Implementations must be safe for concurrent use. Touch and Close on one
// session must be atomic with respect to each other; operations on different
// sessions must not contend beyond the bookkeeping needed to find a record.
type Store interface {
	// Create inserts a new session. The record is copied.
	Create(ctx context.Context, s *Session) error
	// Get returns a copy of the session regardless of its status.
	Get(ctx context.Context, id string) (*Session, error)
	// Touch confirms the session is active, advances LastActivityAt to at
	// and adds messages to MessageCount. It returns ErrSessionNotFound or
	// ErrSessionInvalid without mutating.
	Touch(ctx context.Context, id string, at time.Time, messages int) (*Session, error)
	// Close atomically moves an active session to closed. Only the caller
	// that performed the transition observes true; closing an absent or
	// already closed session reports false with a nil error.
	Close(ctx context.Context, id string, at time.Time) (bool, error)
	// List returns sessions ordered by creation time, oldest first.
	List(ctx context.Context, skip, limit int) (Page, error)
	// Stats reports session counts for health reporting.
	Stats(ctx context.Context) (Stats, error)
	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error
}

// Page is one window of a List call.
type Page struct {
	Items []*Session
	Total int
}

// Stats summarizes the store contents.
type Stats struct {
	Total  int `json:"total_sessions"`
	Active int `json:"active_sessions"`
}

// ClampPage normalizes list bounds: negative skip becomes zero and limit is
// kept within [1, MaxListLimit], with zero meaning DefaultListLimit.
func ClampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return skip, limit
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)
