// Package memorystore is an in-process sessions.Store for single-instance
// deployments and tests.
package memorystore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/climber-engine/mcp-server-go/sessions"
)

// Store is an in-memory implementation of sessions.Store.
//
// The map lock only guards membership and creation order. Each record has
// its own mutex, so touching or closing one session never waits on another.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // ids in creation order, for List

	active atomic.Int64
}

type entry struct {
	mu   sync.Mutex
	sess sessions.Session
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

// Create implements sessions.Store.
func (s *Store) Create(ctx context.Context, sess *sessions.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := &entry{sess: *sess}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[sess.ID]; exists {
		return sessions.ErrSessionExists
	}
	s.entries[sess.ID] = e
	s.order = append(s.order, sess.ID)
	if sess.Status == sessions.StatusActive {
		s.active.Add(1)
	}
	return nil
}

// Get implements sessions.Store.
func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

// Touch implements sessions.Store.
func (s *Store) Touch(ctx context.Context, id string, at time.Time, messages int) (*sessions.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status != sessions.StatusActive {
		return nil, sessions.ErrSessionInvalid
	}
	if at.After(e.sess.LastActivityAt) {
		e.sess.LastActivityAt = at
	}
	if messages > 0 {
		e.sess.MessageCount += messages
	}
	return e.sess.Clone(), nil
}

// Close implements sessions.Store.
func (s *Store) Close(ctx context.Context, id string, at time.Time) (bool, error) {
	e, ok := s.lookup(id)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.Status != sessions.StatusActive {
		return false, nil
	}
	e.sess.Status = sessions.StatusClosed
	e.sess.ClosedAt = at
	s.active.Add(-1)
	return true, nil
}

// List implements sessions.Store.
func (s *Store) List(ctx context.Context, skip, limit int) (sessions.Page, error) {
	skip, limit = sessions.ClampPage(skip, limit)

	s.mu.RLock()
	total := len(s.order)
	var window []*entry
	if skip < total {
		end := min(skip+limit, total)
		window = make([]*entry, 0, end-skip)
		for _, id := range s.order[skip:end] {
			window = append(window, s.entries[id])
		}
	}
	s.mu.RUnlock()

	items := make([]*sessions.Session, 0, len(window))
	for _, e := range window {
		e.mu.Lock()
		items = append(items, e.sess.Clone())
		e.mu.Unlock()
	}
	return sessions.Page{Items: items, Total: total}, nil
}

// Stats implements sessions.Store.
func (s *Store) Stats(ctx context.Context) (sessions.Stats, error) {
	s.mu.RLock()
	total := len(s.order)
	s.mu.RUnlock()
	return sessions.Stats{Total: total, Active: int(s.active.Load())}, nil
}

// Ping implements sessions.Store. The in-memory store is always available.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

var _ sessions.Store = (*Store)(nil)
