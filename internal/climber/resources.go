package climber

import (
	"context"
	"errors"
	"fmt"

	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions"
)

const (
	uriPrefix = "climber://user/"
	jsonMIME  = "application/json"
)

// section is a fixed per-owner resource backed by one record kind.
type section struct {
	name        string
	title       string
	description string
}

var sections = []section{
	{"skills", "Skill Assessments", "User's skill assessment history and current levels"},
	{"sessions", "Coding Sessions", "Recent coding session data and statistics"},
	{"tasks", "Learning Tasks", "Current and completed learning tasks"},
	{"debt", "Technical Debt", "Technical debt analysis and tracking"},
}

func (c *catalogue) resources() []mcpservice.Resource {
	out := []mcpservice.Resource{{
		Pattern:     uriPrefix + "profile",
		Name:        "User Profile",
		Description: "Current user's profile and preferences",
		MIMEType:    jsonMIME,
		Resolver:    c.readProfile,
	}}
	for _, s := range sections {
		out = append(out, mcpservice.Resource{
			Pattern:     uriPrefix + s.name,
			Name:        s.title,
			Description: s.description,
			MIMEType:    jsonMIME,
			Resolver:    c.recordsResolver(s.name),
		})
	}
	out = append(out, mcpservice.Resource{
		Pattern:     uriPrefix + "{section}",
		Name:        "User Records",
		Description: "Any other per-user record collection, by section name",
		MIMEType:    jsonMIME,
		Resolver: func(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
			return c.recordsResolver(req.Vars["section"])(ctx, req)
		},
	})
	return out
}

func (c *catalogue) readProfile(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
	owner, err := c.owner(ctx, req.Session)
	if err != nil {
		return mcpservice.ResourceBody{}, err
	}
	return mcpservice.JSONBody(owner)
}

func (c *catalogue) recordsResolver(kind string) mcpservice.ResourceResolver {
	return func(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
		if kind == "" {
			return mcpservice.ResourceBody{}, fmt.Errorf("%w: %s", mcpservice.ErrResourceNotFound, req.URI)
		}
		owner, err := c.owner(ctx, req.Session)
		if err != nil {
			return mcpservice.ResourceBody{}, err
		}
		records, err := c.Directory.Records(ctx, owner.ID, kind)
		if err != nil {
			return mcpservice.ResourceBody{}, err
		}
		return mcpservice.JSONBody(map[string]any{
			"user_id":       owner.ID,
			"total_" + kind: len(records),
			kind:            records,
		})
	}
}

// owner resolves the directory entry a session is bound to.
func (c *catalogue) owner(ctx context.Context, sess *sessions.Session) (*directory.Owner, error) {
	if sess == nil {
		return nil, errors.New("no session bound to request")
	}
	return c.Directory.LookupOwner(ctx, sess.OwnerRef)
}

func (c *catalogue) sessionOwner(ctx context.Context, sessionID string) (*directory.Owner, error) {
	sess, err := c.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.owner(ctx, sess)
}
