package sessions

import (
	"time"

	"github.com/climber-engine/mcp-server-go/mcp"
)

// Status is the lifecycle state of a session. A session is created active
// and may transition exactly once to closed; closed is terminal.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// ClientInfo records the client identity supplied at initialize.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Session is the authoritative stored representation of a session.
//
// ID, OwnerRef, AgentID, ProtocolVersion, Client, Capabilities and CreatedAt
// are immutable after creation. Status, LastActivityAt, MessageCount and
// ClosedAt are only changed by a Store through Touch and Close. Timestamps
// are UTC.
type Session struct {
	MetaVersion     int              `json:"meta_version"`
	ID              string           `json:"id"`
	OwnerRef        string           `json:"owner_ref"`
	AgentID         string           `json:"agent_id,omitempty"`
	Status          Status           `json:"status"`
	ProtocolVersion string           `json:"protocol_version,omitempty"`
	Client          ClientInfo       `json:"client"`
	Capabilities    mcp.Capabilities `json:"capabilities"`
	CreatedAt       time.Time        `json:"created_at"`
	LastActivityAt  time.Time        `json:"last_activity_at"`
	MessageCount    int              `json:"message_count"`
	ClosedAt        time.Time        `json:"closed_at,omitzero"`
}

// Active reports whether scoped operations may proceed on s.
func (s *Session) Active() bool { return s != nil && s.Status == StatusActive }

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Info converts s into its wire representation.
func (s *Session) Info() mcp.SessionInfo {
	status := mcp.SessionStatusActive
	if s.Status == StatusClosed {
		status = mcp.SessionStatusClosed
	}
	return mcp.SessionInfo{
		SessionID:      s.ID,
		OwnerRef:       s.OwnerRef,
		AgentID:        s.AgentID,
		Status:         status,
		ClientInfo:     mcp.ImplementationInfo{Name: s.Client.Name, Version: s.Client.Version},
		Capabilities:   s.Capabilities,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		MessageCount:   s.MessageCount,
		ClosedAt:       s.ClosedAt,
	}
}
