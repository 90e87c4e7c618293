package mcpservice

import (
	"github.com/climber-engine/mcp-server-go/mcp"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server bundles the registries and static metadata a server exposes.
// It is immutable once built.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolRegistry
	resources    *ResourceRegistry
	prompts      *PromptRegistry
	sampling     bool
}

// NewServer builds a Server using functional options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the server identity returned by initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets the instructions text returned by initialize.
func WithInstructions(text string) ServerOption {
	return func(s *Server) { s.instructions = text }
}

// WithTools sets the tool registry.
func WithTools(r *ToolRegistry) ServerOption {
	return func(s *Server) { s.tools = r }
}

// WithResources sets the resource registry.
func WithResources(r *ResourceRegistry) ServerOption {
	return func(s *Server) { s.resources = r }
}

// WithPrompts sets the prompt registry.
func WithPrompts(r *PromptRegistry) ServerOption {
	return func(s *Server) { s.prompts = r }
}

// WithSampling advertises the sampling capability. Callers enable it when a
// model backend is configured.
func WithSampling(enabled bool) ServerOption {
	return func(s *Server) { s.sampling = enabled }
}

func (s *Server) Info() mcp.ImplementationInfo { return s.info }
func (s *Server) Instructions() string         { return s.instructions }
func (s *Server) Tools() *ToolRegistry         { return s.tools }
func (s *Server) Resources() *ResourceRegistry { return s.resources }
func (s *Server) Prompts() *PromptRegistry     { return s.prompts }

// Capabilities derives the server capability set from what is registered.
func (s *Server) Capabilities() mcp.Capabilities {
	return mcp.Capabilities{
		Tools:     s.tools.Len() > 0,
		Resources: s.resources.Len() > 0,
		Prompts:   s.prompts.Len() > 0,
		Sampling:  s.sampling,
	}
}
