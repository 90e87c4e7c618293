package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/invopop/jsonschema"
)

// ErrToolNotFound is returned when a call names an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// ToolCall carries one invocation to a ToolHandler.
type ToolCall struct {
	SessionID string
	Name      string
	Arguments json.RawMessage
}

// ToolHandler executes a tool. Arguments have already been validated against
// the tool's input schema. A returned error is reported to the caller as an
// error result, not as a protocol fault.
type ToolHandler func(ctx context.Context, call ToolCall) (*mcp.CallToolResult, error)

// Tool pairs an MCP tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for typed tool input and request metadata.
type ToolRequest[A any] struct {
	name      string
	sessionID string
	raw       json.RawMessage
	args      A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) SessionID() string             { return r.sessionID }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false
// and validation rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a Tool from a typed args struct A. It:
//   - Reflects a JSON Schema from A using invopop/jsonschema
//   - Down-converts it to MCP's simplified ToolInputSchema
//   - Wraps fn with JSON decoding of the (already validated) arguments
//
// Fields without omitempty are required. Enum and numeric bounds come from
// jsonschema struct tags, e.g. `jsonschema:"enum=a,enum=b"` or
// `jsonschema:"minimum=1,maximum=10"`.
func NewTool[A any](name string, fn func(ctx context.Context, r *ToolRequest[A]) (*mcp.CallToolResult, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}
	handler := func(ctx context.Context, call ToolCall) (*mcp.CallToolResult, error) {
		var a A
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, &ToolRequest[A]{name: call.Name, sessionID: call.SessionID, raw: call.Arguments, args: a})
	}
	return Tool{Descriptor: desc, Handler: handler}
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if f, err := s.Minimum.Float64(); s.Minimum != "" && err == nil {
		p.Minimum = &f
	}
	if f, err := s.Maximum.Float64(); s.Maximum != "" && err == nil {
		p.Maximum = &f
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// InvocationOutcome classifies a completed tool invocation.
type InvocationOutcome string

const (
	OutcomeOK        InvocationOutcome = "ok"
	OutcomeToolError InvocationOutcome = "tool_error"
)

// ToolInvocation describes one completed handler run. It is handed to the
// registry's observer and never persisted.
type ToolInvocation struct {
	ToolName    string
	Arguments   json.RawMessage
	SessionID   string
	StartedAt   time.Time
	CompletedAt time.Time
	Outcome     InvocationOutcome
}

// Duration is the handler's wall time.
func (i ToolInvocation) Duration() time.Duration { return i.CompletedAt.Sub(i.StartedAt) }

// MetricsSink allows optional instrumentation without hard dependency.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	ObserveHistogram(name string, value float64, tags map[string]string)
}

// ToolRegistryOption configures a ToolRegistry.
type ToolRegistryOption func(*ToolRegistry)

// WithToolLogger sets the registry logger.
func WithToolLogger(l *slog.Logger) ToolRegistryOption {
	return func(r *ToolRegistry) { r.log = l }
}

// WithToolMetrics records per-call counters and duration histograms.
func WithToolMetrics(m MetricsSink) ToolRegistryOption {
	return func(r *ToolRegistry) { r.metrics = m }
}

// WithInvocationObserver receives every completed invocation.
func WithInvocationObserver(fn func(ToolInvocation)) ToolRegistryOption {
	return func(r *ToolRegistry) { r.observer = fn }
}

// ToolRegistry is an immutable, ordered set of tools. It is safe for
// concurrent use.
type ToolRegistry struct {
	tools  []Tool
	byName map[string]int

	log      *slog.Logger
	metrics  MetricsSink
	observer func(ToolInvocation)
}

// NewToolRegistry builds a registry. Tool names must be unique and non-empty
// and every tool needs a handler.
func NewToolRegistry(tools []Tool, opts ...ToolRegistryOption) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools:  make([]Tool, 0, len(tools)),
		byName: make(map[string]int, len(tools)),
		log:    slog.Default(),
	}
	for _, t := range tools {
		name := t.Descriptor.Name
		if name == "" {
			return nil, errors.New("tool registry: tool name is required")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool registry: tool %q has no handler", name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("tool registry: duplicate tool %q", name)
		}
		r.byName[name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Len reports the number of registered tools.
func (r *ToolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// List returns every descriptor in registration order.
func (r *ToolRegistry) List() []mcp.Tool {
	if r == nil {
		return []mcp.Tool{}
	}
	out := make([]mcp.Tool, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor
	}
	return out
}

// Lookup returns the named tool descriptor.
func (r *ToolRegistry) Lookup(name string) (mcp.Tool, bool) {
	if r == nil {
		return mcp.Tool{}, false
	}
	i, ok := r.byName[name]
	if !ok {
		return mcp.Tool{}, false
	}
	return r.tools[i].Descriptor, true
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Descriptor.Name
	}
	return out
}

// Call resolves, validates and invokes a tool. Unknown tools yield
// ErrToolNotFound and schema violations an *ArgumentError; in both cases the
// handler is not run. A handler error or panic is returned as an error
// result with a nil error.
func (r *ToolRegistry) Call(ctx context.Context, sessionID, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	tool := r.tools[i]

	if err := ValidateArguments(tool.Descriptor.InputSchema, args); err != nil {
		r.incCounter("tool_calls_rejected", map[string]string{"tool": name})
		return nil, err
	}

	log := r.log.With(slog.String("tool", name), slog.String("session_id", sessionID))
	start := time.Now()
	res, err := r.invoke(ctx, tool, ToolCall{SessionID: sessionID, Name: name, Arguments: args})
	end := time.Now()
	dur := end.Sub(start)

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeToolError
		res = Errorf("Error calling tool %s: %v", name, err)
		log.WarnContext(ctx, "mcpservice.tool_call.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", dur.Milliseconds()))
	} else {
		if res == nil {
			res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
		}
		if res.IsError {
			outcome = OutcomeToolError
		}
		log.DebugContext(ctx, "mcpservice.tool_call.ok", slog.Int64("dur_ms", dur.Milliseconds()))
	}

	tags := map[string]string{"tool": name, "outcome": string(outcome)}
	r.incCounter("tool_calls", tags)
	if r.metrics != nil {
		r.metrics.ObserveHistogram("tool_call_duration_ms", float64(dur.Microseconds())/1000, tags)
	}
	if r.observer != nil {
		r.observer(ToolInvocation{
			ToolName:    name,
			Arguments:   args,
			SessionID:   sessionID,
			StartedAt:   start,
			CompletedAt: end,
			Outcome:     outcome,
		})
	}
	return res, nil
}

func (r *ToolRegistry) invoke(ctx context.Context, t Tool, call ToolCall) (res *mcp.CallToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "mcpservice.tool_call.panic",
				slog.String("tool", call.Name),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Handler(ctx, call)
}

func (r *ToolRegistry) incCounter(name string, tags map[string]string) {
	if r.metrics != nil {
		r.metrics.IncCounter(name, tags)
	}
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(s)}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(msg)}, IsError: true}
}

// JSONResult renders v as indented JSON text. When v encodes to a JSON
// object it is also attached as structured content.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	res := TextResult(string(b))
	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil {
		res.StructuredContent = m
	}
	return res, nil
}
