// Package directory resolves session owners and serves the per-owner records
// exposed as climber:// resources. It is read-only from the server's point
// of view.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrOwnerNotFound is returned when a reference does not name a known,
// active owner.
var ErrOwnerNotFound = errors.New("owner not found")

// Owner is the identity a session is bound to.
type Owner struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email,omitempty"`
	FullName         string    `json:"full_name,omitempty"`
	SkillLevel       string    `json:"skill_level,omitempty"`
	PrimaryLanguages []string  `json:"primary_languages"`
	LearningStyle    string    `json:"learning_style,omitempty"`
	Active           bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Directory looks up owners and their records.
type Directory interface {
	// LookupOwner resolves ref, which may be an owner id or username.
	// Unknown or inactive owners yield ErrOwnerNotFound.
	LookupOwner(ctx context.Context, ref string) (*Owner, error)
	// Records returns the stored payloads of the given kind for ownerID,
	// oldest first. An owner without records of that kind yields an empty
	// slice, not an error.
	Records(ctx context.Context, ownerID, kind string) ([]json.RawMessage, error)
}

// Static is an in-memory Directory.
type Static struct {
	mu      sync.RWMutex
	owners  map[string]Owner
	records map[string]map[string][]json.RawMessage
}

// NewStatic returns a Directory serving the given owners.
func NewStatic(owners ...Owner) *Static {
	s := &Static{
		owners:  make(map[string]Owner, len(owners)),
		records: make(map[string]map[string][]json.RawMessage),
	}
	for _, o := range owners {
		s.owners[o.ID] = o
	}
	return s
}

// AddRecord appends a JSON-encoded payload of the given kind for ownerID.
func (s *Static) AddRecord(ownerID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind, ok := s.records[ownerID]
	if !ok {
		byKind = make(map[string][]json.RawMessage)
		s.records[ownerID] = byKind
	}
	byKind[kind] = append(byKind[kind], raw)
	return nil
}

func (s *Static) LookupOwner(ctx context.Context, ref string) (*Owner, error) {
	if ref == "" {
		return nil, ErrOwnerNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.owners[ref]; ok && o.Active {
		return &o, nil
	}
	for _, o := range s.owners {
		if o.Username == ref && o.Active {
			return &o, nil
		}
	}
	return nil, ErrOwnerNotFound
}

func (s *Static) Records(ctx context.Context, ownerID, kind string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.owners[ownerID]; !ok {
		return nil, ErrOwnerNotFound
	}
	src := s.records[ownerID][kind]
	out := make([]json.RawMessage, len(src))
	copy(out, src)
	return out, nil
}

var _ Directory = (*Static)(nil)
