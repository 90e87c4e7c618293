package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/logctx"
	"github.com/climber-engine/mcp-server-go/mcp"
)

// errCancelledByClient is the cancel cause for notifications/cancelled.
var errCancelledByClient = errors.New("cancelled by client")

// HandleRequest serves one JSON-RPC message. Notifications are handed to
// HandleNotification and yield a nil response.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if req.IsNotification() {
		e.HandleNotification(ctx, mcp.Notification{Method: req.Method, Params: req.Params})
		return nil
	}

	start := time.Now()
	reqID := req.ID.String()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: reqID, Type: jsonrpc.KindRequest})

	ctx, done := e.track(ctx, flightKey{session: paramsSession(req.Params), id: reqID})
	defer done()

	res, err := e.route(ctx, req)
	if err != nil {
		rpcErr := ToRPCError(err)
		if rpcErr.Code == jsonrpc.ErrorCodeInternalError {
			e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		} else {
			e.log.InfoContext(ctx, "engine.handle_request.rejected", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		}
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr, ID: req.ID}
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	e.log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return resp
}

func (e *Engine) route(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		var p mcp.InitializeRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if owner := OwnerFromContext(ctx); owner != "" {
			p.OwnerRef = owner
		}
		return e.Initialize(ctx, &p)
	case mcp.CapabilitiesMethod:
		return e.Capabilities(ctx), nil
	case mcp.PingMethod:
		return struct{}{}, nil
	case mcp.HealthMethod:
		return e.Health(ctx), nil

	case mcp.ToolsListMethod:
		var p mcp.SessionRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.ListTools(ctx, p.SessionID)
	case mcp.ToolsCallMethod:
		var p mcp.CallToolRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.CallTool(ctx, &p)

	case mcp.ResourcesListMethod:
		var p mcp.SessionRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.ListResources(ctx, p.SessionID)
	case mcp.ResourcesReadMethod:
		var p mcp.ReadResourceRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.ReadResource(ctx, &p)

	case mcp.PromptsListMethod:
		return e.ListPrompts(ctx), nil
	case mcp.PromptsGetMethod:
		var p mcp.GetPromptRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.GetPrompt(ctx, &p)

	case mcp.CompletionMethod, mcp.SamplingMethod:
		out := e.Dispatch(ctx, DispatchRequest{ID: req.ID, Kind: req.Method, Params: req.Params})
		if out.Error != nil {
			return nil, out.Error
		}
		return out.Result, nil

	case mcp.SessionsListMethod:
		var p mcp.ListSessionsRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.ListSessions(ctx, &p)
	case mcp.SessionsGetMethod:
		var p mcp.SessionRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.GetSession(ctx, p.SessionID)
	case mcp.SessionsCloseMethod:
		var p mcp.SessionRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return e.CloseSession(ctx, p.SessionID)
	}
	return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + req.Method}
}

// flightKey scopes a request id to the session it was sent on. Clients pick
// ids independently, so the same id may be in flight on many sessions.
type flightKey struct {
	session string
	id      string
}

// paramsSession returns the sessionId member of a params object, if any.
func paramsSession(params json.RawMessage) string {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if decodeParams(params, &p) != nil {
		return ""
	}
	return p.SessionID
}

// track registers a cancel func for an in-flight request so that
// notifications/cancelled can reach it. Requests without a session are not
// cancellable. Duplicate keys are all tracked and cancelled together.
func (e *Engine) track(ctx context.Context, key flightKey) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if key.session == "" || key.id == "" {
		return ctx, func() { cancel(context.Canceled) }
	}

	e.inflightMu.Lock()
	e.inflightSeq++
	seq := e.inflightSeq
	if e.inflight[key] == nil {
		e.inflight[key] = make(map[uint64]context.CancelCauseFunc)
	}
	e.inflight[key][seq] = cancel
	e.inflightMu.Unlock()

	return ctx, func() {
		e.inflightMu.Lock()
		delete(e.inflight[key], seq)
		if len(e.inflight[key]) == 0 {
			delete(e.inflight, key)
		}
		e.inflightMu.Unlock()
		cancel(context.Canceled)
	}
}

// cancelInFlight cancels every request registered under key and reports
// how many there were.
func (e *Engine) cancelInFlight(key flightKey, reason string) int {
	e.inflightMu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(e.inflight[key]))
	for _, c := range e.inflight[key] {
		cancels = append(cancels, c)
	}
	e.inflightMu.Unlock()

	cause := errCancelledByClient
	if reason != "" {
		cause = errors.New(reason)
	}
	for _, c := range cancels {
		c(cause)
	}
	return len(cancels)
}

type ownerKey struct{}

// WithOwner attaches an authenticated owner reference to ctx. Initialize
// requests routed through HandleRequest use it in place of the ownerRef
// parameter.
func WithOwner(ctx context.Context, ownerRef string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerRef)
}

// OwnerFromContext returns the owner attached by WithOwner.
func OwnerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}
