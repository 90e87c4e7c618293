package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/health"
	"github.com/climber-engine/mcp-server-go/internal/logctx"
	"github.com/climber-engine/mcp-server-go/internal/sessioncore"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions"
)

// Engine routes protocol operations to the session manager, the registries
// and the model backend. Transports call its typed methods directly or hand
// it whole JSON-RPC messages through HandleRequest.
type Engine struct {
	sessions *sessioncore.Manager
	srv      *mcpservice.Server
	backend  backend.Backend
	health   *health.Aggregator

	extraProbes  []health.Probe
	probeTimeout time.Duration
	log          *slog.Logger

	inflightMu  sync.Mutex
	inflight    map[flightKey]map[uint64]context.CancelCauseFunc
	inflightSeq uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBackend sets the model backend used by completion and sampling. When
// it also implements backend.Prober its providers are health checked.
func WithBackend(b backend.Backend) EngineOption {
	return func(e *Engine) { e.backend = b }
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.probeTimeout = d }
}

// WithHealthProbes adds probes beyond the session store and backend ones.
func WithHealthProbes(probes ...health.Probe) EngineOption {
	return func(e *Engine) { e.extraProbes = append(e.extraProbes, probes...) }
}

// NewEngine wires an Engine over the session manager and server registries.
func NewEngine(mgr *sessioncore.Manager, srv *mcpservice.Server, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:     mgr,
		srv:          srv,
		probeTimeout: health.DefaultTimeout,
		log:          slog.Default(),
		inflight:     make(map[flightKey]map[uint64]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "engine"))

	probes := []health.Probe{{Name: "session_store", Check: mgr.Ping}}
	if p, ok := e.backend.(backend.Prober); ok {
		probes = append(probes, health.BackendProbes(p)...)
	}
	probes = append(probes, e.extraProbes...)
	e.health = health.NewAggregator(
		health.WithProbes(probes...),
		health.WithTimeout(e.probeTimeout),
		health.WithLogger(e.log),
	)
	return e
}

// ServerInfo returns the advertised implementation info.
func (e *Engine) ServerInfo() mcp.ImplementationInfo { return e.srv.Info() }

// Initialize opens a session for req.OwnerRef. Transports that authenticate
// callers must overwrite OwnerRef before calling.
func (e *Engine) Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if req == nil {
		req = &mcp.InitializeRequest{}
	}
	sess, err := e.sessions.Initialize(ctx, sessioncore.InitializeParams{
		OwnerRef:        req.OwnerRef,
		AgentID:         req.AgentID,
		Client:          sessions.ClientInfo{Name: req.ClientInfo.Name, Version: req.ClientInfo.Version},
		ProtocolVersion: req.ProtocolVersion,
		Requested:       req.Capabilities,
	})
	if err != nil {
		return nil, err
	}
	return &mcp.InitializeResult{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
		Capabilities:    sess.Capabilities,
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	}, nil
}

// Capabilities describes the server without a session.
func (e *Engine) Capabilities(ctx context.Context) *mcp.CapabilitiesResult {
	return &mcp.CapabilitiesResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Tools:           e.DescribeTools(),
	}
}

// DescribeTools lists tool descriptors without a session.
func (e *Engine) DescribeTools() []mcp.Tool {
	return e.srv.Tools().List()
}

// ListTools lists every tool for an active session.
func (e *Engine) ListTools(ctx context.Context, sessionID string) (*mcp.ListToolsResult, error) {
	if _, _, err := e.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: e.srv.Tools().List()}, nil
}

// CallTool validates the session and invokes the tool. Tool failures come
// back as a result with IsError set.
func (e *Engine) CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidParams)
	}
	_, ctx, err := e.touch(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	return e.srv.Tools().Call(ctx, req.SessionID, req.Name, req.Arguments)
}

// ListResources lists literal resources and templates for an active session.
func (e *Engine) ListResources(ctx context.Context, sessionID string) (*mcp.ListResourcesResult, error) {
	if _, _, err := e.touch(ctx, sessionID); err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{
		Resources:         e.srv.Resources().List(),
		ResourceTemplates: e.srv.Resources().ListTemplates(),
	}, nil
}

// ReadResource resolves one URI for an active session.
func (e *Engine) ReadResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.URI == "" {
		return nil, fmt.Errorf("%w: uri is required", ErrInvalidParams)
	}
	sess, ctx, err := e.touch(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	contents, err := e.srv.Resources().Read(ctx, sess, req.URI)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{contents}}, nil
}

// ListPrompts lists prompt descriptors. It needs no session.
func (e *Engine) ListPrompts(ctx context.Context) *mcp.ListPromptsResult {
	return &mcp.ListPromptsResult{Prompts: e.srv.Prompts().List()}
}

// GetPrompt renders a prompt. A session id is optional; when present it must
// name an active session.
func (e *Engine) GetPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidParams)
	}
	if req.SessionID != "" {
		var err error
		if _, ctx, err = e.touch(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}
	return e.srv.Prompts().Get(ctx, req.Name, req.Arguments)
}

// ListSessions pages through sessions, closed ones included. A caller bound
// to an owner only sees that owner's sessions.
func (e *Engine) ListSessions(ctx context.Context, req *mcp.ListSessionsRequest) (*mcp.ListSessionsResult, error) {
	if req == nil {
		req = &mcp.ListSessionsRequest{}
	}
	skip, limit := sessions.ClampPage(req.Skip, req.Limit)
	var page sessions.Page
	if ref := OwnerFromContext(ctx); ref != "" {
		ownerID, err := e.sessions.ResolveOwner(ctx, ref)
		if err != nil {
			return nil, err
		}
		if page, err = e.sessions.ListOwned(ctx, ownerID, skip, limit); err != nil {
			return nil, err
		}
	} else {
		var err error
		if page, err = e.sessions.List(ctx, skip, limit); err != nil {
			return nil, err
		}
	}
	out := &mcp.ListSessionsResult{
		Sessions: make([]mcp.SessionInfo, 0, len(page.Items)),
		Total:    page.Total,
		Skip:     skip,
		Limit:    limit,
	}
	for _, s := range page.Items {
		out.Sessions = append(out.Sessions, s.Info())
	}
	return out, nil
}

// GetSession returns a session in any status.
func (e *Engine) GetSession(ctx context.Context, id string) (*mcp.SessionInfo, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidParams)
	}
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(ctx, sess); err != nil {
		return nil, err
	}
	info := sess.Info()
	return &info, nil
}

// CloseSession closes a session. Closed reports whether this call performed
// the transition.
func (e *Engine) CloseSession(ctx context.Context, id string) (*mcp.CloseSessionResult, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidParams)
	}
	if OwnerFromContext(ctx) != "" {
		sess, err := e.sessions.Get(ctx, id)
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
		case err != nil:
			return nil, err
		default:
			if err := e.authorize(ctx, sess); err != nil {
				return nil, err
			}
		}
	}
	closed, err := e.sessions.Close(ctx, id)
	if err != nil {
		return nil, err
	}
	return &mcp.CloseSessionResult{Closed: closed}, nil
}

// HealthReport is the probe report enriched with server and session facts.
type HealthReport struct {
	health.Report
	ServerInfo     mcp.ImplementationInfo `json:"server_info"`
	ActiveSessions int                    `json:"active_sessions"`
	TotalSessions  int                    `json:"total_sessions"`
	Capabilities   mcp.Capabilities       `json:"capabilities"`
}

// Health probes the store and every backend provider. It never fails.
func (e *Engine) Health(ctx context.Context) *HealthReport {
	out := &HealthReport{
		Report:       e.health.Check(ctx),
		ServerInfo:   e.srv.Info(),
		Capabilities: e.srv.Capabilities(),
	}
	stats, err := e.sessions.Stats(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "engine.health.stats.fail", slog.String("err", err.Error()))
		return out
	}
	out.ActiveSessions = stats.Active
	out.TotalSessions = stats.Total
	return out
}

// touch checks that sessionID names an active session the caller may use
// and records activity. The returned context carries the session for log
// enrichment.
func (e *Engine) touch(ctx context.Context, sessionID string) (*sessions.Session, context.Context, error) {
	if sessionID == "" {
		return nil, ctx, fmt.Errorf("%w: sessionId is required", ErrInvalidParams)
	}
	if OwnerFromContext(ctx) != "" {
		sess, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, ctx, fmt.Errorf("%w: %s", err, sessionID)
		}
		if err := e.authorize(ctx, sess); err != nil {
			return nil, ctx, err
		}
	}
	sess, err := e.sessions.Touch(ctx, sessionID)
	if err != nil {
		return nil, ctx, fmt.Errorf("%w: %s", err, sessionID)
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID,
		OwnerRef:  sess.OwnerRef,
		Status:    string(sess.Status),
	})
	return sess, ctx, nil
}

// authorize hides sess from callers bound to a different owner. Callers
// with no bound owner are not restricted.
func (e *Engine) authorize(ctx context.Context, sess *sessions.Session) error {
	ref := OwnerFromContext(ctx)
	if ref == "" {
		return nil
	}
	ownerID, err := e.sessions.ResolveOwner(ctx, ref)
	if err != nil && !errors.Is(err, sessioncore.ErrInvalidOwner) {
		return err
	}
	if err != nil || ownerID != sess.OwnerRef {
		e.log.WarnContext(ctx, "engine.session.foreign",
			slog.String("session_id", sess.ID),
			slog.String("owner", ref),
		)
		return fmt.Errorf("%w: %s", sessions.ErrSessionNotFound, sess.ID)
	}
	return nil
}

// decodeParams unmarshals raw into v. Absent params leave v untouched.
func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
