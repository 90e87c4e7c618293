package climber

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions"
)

const (
	ServerName    = "Climber Engine MCP Server"
	ServerVersion = "1.0.0"

	Instructions = "Climber Engine is an AI-powered programming skill development platform. " +
		"Use analyze_code and suggest_improvements for feedback on code, assess_skills and " +
		"generate_learning_tasks to plan practice, and read climber://user/* resources for the " +
		"caller's profile and history."
)

// Deps are the collaborators the catalogue reads from. Backend may be nil,
// in which case every tool call reports the backend as unavailable.
type Deps struct {
	Backend   backend.Backend
	Directory directory.Directory
	Sessions  sessions.Store
	Logger    *slog.Logger
	// Now overrides the clock used for result timestamps.
	Now func() time.Time
}

type catalogue struct {
	Deps
}

// NewServer builds the registries and wraps them in a server description
// with sampling enabled.
func NewServer(d Deps) (*mcpservice.Server, error) {
	if d.Directory == nil {
		return nil, fmt.Errorf("climber: directory is required")
	}
	if d.Sessions == nil {
		return nil, fmt.Errorf("climber: session store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	c := &catalogue{Deps: d}

	tools, err := mcpservice.NewToolRegistry(c.tools(), mcpservice.WithToolLogger(d.Logger))
	if err != nil {
		return nil, fmt.Errorf("climber: tools: %w", err)
	}
	resources, err := mcpservice.NewResourceRegistry(c.resources()...)
	if err != nil {
		return nil, fmt.Errorf("climber: resources: %w", err)
	}
	prompts, err := mcpservice.NewPromptRegistry(Prompts()...)
	if err != nil {
		return nil, fmt.Errorf("climber: prompts: %w", err)
	}

	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: ServerName, Version: ServerVersion}),
		mcpservice.WithInstructions(Instructions),
		mcpservice.WithTools(tools),
		mcpservice.WithResources(resources),
		mcpservice.WithPrompts(prompts),
		mcpservice.WithSampling(true),
	), nil
}
