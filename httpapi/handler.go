package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/climber-engine/mcp-server-go/auth"
	"github.com/climber-engine/mcp-server-go/internal/engine"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/logctx"
	"github.com/climber-engine/mcp-server-go/mcp"
)

const (
	wwwAuthenticateHeader = "WWW-Authenticate"
	defaultBasePath       = "/mcp"
	defaultRealm          = "mcp"
	maxBodyBytes          = 4 << 20
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	authn    auth.Authenticator
	realm    string
	basePath string
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuthenticator requires a valid bearer token on every route except
// health. The token subject becomes the owner of sessions it opens.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.authn = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = strings.TrimSpace(realm) }
}

// WithBasePath mounts the routes under prefix instead of /mcp.
func WithBasePath(prefix string) Option {
	return func(c *config) { c.basePath = "/" + strings.Trim(prefix, "/") }
}

// Handler serves the engine over HTTP: a JSON-RPC endpoint plus REST routes
// mirroring each method.
type Handler struct {
	eng   *engine.Engine
	log   *slog.Logger
	authn auth.Authenticator
	realm string
	mux   *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

// New builds a Handler around eng.
func New(eng *engine.Engine, opts ...Option) (*Handler, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	cfg := &config{logger: slog.Default(), realm: defaultRealm, basePath: defaultBasePath}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		eng:   eng,
		log:   slog.New(logctx.New(cfg.logger.Handler())),
		authn: cfg.authn,
		realm: cfg.realm,
	}

	p := cfg.basePath
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+p, h.authed(h.handleRPC))
	mux.HandleFunc("POST "+p+"/initialize", h.authed(h.handleInitialize))
	mux.HandleFunc("GET "+p+"/capabilities", h.authed(h.handleCapabilities))
	mux.HandleFunc("GET "+p+"/tools", h.authed(h.handleListTools))
	mux.HandleFunc("POST "+p+"/tools/call", h.authed(h.handleCallTool))
	mux.HandleFunc("GET "+p+"/resources", h.authed(h.handleListResources))
	mux.HandleFunc("POST "+p+"/resources/read", h.authed(h.handleReadResource))
	mux.HandleFunc("GET "+p+"/prompts", h.authed(h.handleListPrompts))
	mux.HandleFunc("POST "+p+"/prompts/get", h.authed(h.handleGetPrompt))
	mux.HandleFunc("POST "+p+"/completion", h.authed(h.handleCompletion))
	mux.HandleFunc("POST "+p+"/sampling", h.authed(h.handleSampling))
	mux.HandleFunc("GET "+p+"/sessions", h.authed(h.handleListSessions))
	mux.HandleFunc("GET "+p+"/sessions/{id}", h.authed(h.handleGetSession))
	mux.HandleFunc("DELETE "+p+"/sessions/{id}", h.authed(h.handleCloseSession))
	mux.HandleFunc("POST "+p+"/notifications", h.authed(h.handleNotification))
	mux.HandleFunc("GET "+p+"/health", h.handleHealth)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// authed negotiates the response type and, when an authenticator is set,
// checks the bearer token before calling next.
func (h *Handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
			h.writeHTTPError(ctx, w, http.StatusNotAcceptable, "response type application/json is not acceptable")
			return
		}
		if h.authn == nil {
			next(w, r)
			return
		}

		tok, ok := auth.BearerToken(r)
		if !ok {
			h.log.InfoContext(ctx, "http.auth.missing")
			h.writeChallenge(ctx, w, auth.MissingCredentials(h.realm), "missing bearer token")
			return
		}
		user, err := h.authn.CheckAuthentication(ctx, tok)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) && !errors.Is(err, auth.ErrInsufficientScope) {
				h.log.ErrorContext(ctx, "http.auth.err", slog.String("err", err.Error()))
				h.writeHTTPError(ctx, w, http.StatusInternalServerError, "authentication failed")
				return
			}
			h.log.InfoContext(ctx, "http.auth.fail", slog.String("err", err.Error()))
			h.writeChallenge(ctx, w, auth.ChallengeFor(err, h.realm), err.Error())
			return
		}
		next(w, r.WithContext(engine.WithOwner(ctx, user.UserID())))
	}
}

// handleRPC serves one JSON-RPC message. Batches and client responses are
// rejected since the server never issues requests of its own.
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireJSON(w, r) {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeHTTPError(ctx, w, http.StatusBadRequest, "could not read body")
		return
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		h.writeRPC(ctx, w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported", nil))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.InfoContext(ctx, "http.rpc.parse.fail", slog.String("err", err.Error()))
		h.writeRPC(ctx, w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
		return
	}

	switch msg.Type() {
	case jsonrpc.KindNotification:
		h.eng.HandleNotification(ctx, mcp.Notification{Method: msg.Method, Params: msg.Params})
		w.WriteHeader(http.StatusAccepted)
	case jsonrpc.KindRequest:
		resp := h.eng.HandleRequest(ctx, msg.AsRequest())
		h.writeRPC(ctx, w, http.StatusOK, resp)
	default:
		h.writeRPC(ctx, w, http.StatusBadRequest, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidRequest, "unexpected response message", nil))
	}
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req mcp.InitializeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if owner := engine.OwnerFromContext(r.Context()); owner != "" {
		req.OwnerRef = owner
	}
	res, err := h.eng.Initialize(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.eng.Capabilities(r.Context()))
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.ListTools(r.Context(), sessionParam(r))
	h.respond(w, r, res, err)
}

func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req mcp.CallToolRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.eng.CallTool(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleListResources(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.ListResources(r.Context(), sessionParam(r))
	h.respond(w, r, res, err)
}

func (h *Handler) handleReadResource(w http.ResponseWriter, r *http.Request) {
	var req mcp.ReadResourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.eng.ReadResource(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.eng.ListPrompts(r.Context()))
}

func (h *Handler) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	var req mcp.GetPromptRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.eng.GetPrompt(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req mcp.CompletionRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.eng.Completion(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleSampling(w http.ResponseWriter, r *http.Request) {
	var req mcp.CreateMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.eng.Sampling(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var req mcp.ListSessionsRequest
	q := r.URL.Query()
	for name, dst := range map[string]*int{"skip": &req.Skip, "limit": &req.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			h.respond(w, r, nil, fmt.Errorf("%w: %s must be an integer", engine.ErrInvalidParams, name))
			return
		}
		*dst = n
	}
	res, err := h.eng.ListSessions(r.Context(), &req)
	h.respond(w, r, res, err)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.GetSession(r.Context(), r.PathValue("id"))
	h.respond(w, r, res, err)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.CloseSession(r.Context(), r.PathValue("id"))
	h.respond(w, r, res, err)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	var n mcp.Notification
	if !h.decode(w, r, &n) {
		return
	}
	if n.Method == "" {
		h.respond(w, r, nil, fmt.Errorf("%w: method is required", engine.ErrInvalidParams))
		return
	}
	h.eng.HandleNotification(r.Context(), n)
	w.WriteHeader(http.StatusAccepted)
}

// handleHealth is unauthenticated so load balancers can probe it. A degraded
// report is still 200; the body carries the per-component detail.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.eng.Health(r.Context()))
}

func sessionParam(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return r.URL.Query().Get("sessionId")
}

func (h *Handler) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.InfoContext(r.Context(), "http.content_type.unsupported")
		h.writeHTTPError(r.Context(), w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if !h.requireJSON(w, r) {
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.respond(w, r, nil, fmt.Errorf("%w: %v", engine.ErrInvalidParams, err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res any, err error) {
	ctx := r.Context()
	if err != nil {
		rpcErr := engine.ToRPCError(err)
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(ctx, "http.request.fail", slog.String("err", err.Error()), slog.Int("status", status))
		} else {
			h.log.InfoContext(ctx, "http.request.rejected", slog.String("err", err.Error()), slog.Int("status", status))
		}
		h.writeJSON(ctx, w, status, errorBody{Error: errorDetail{
			Code:    rpcErr.Code,
			Class:   engine.Classify(err).String(),
			Message: rpcErr.Message,
			Data:    rpcErr.Data,
		}})
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, res)
}

// statusFor maps an engine error onto an HTTP status. Failures with a more
// precise status than 500 get it.
func statusFor(err error) int {
	switch engine.ToRPCError(err).Code {
	case jsonrpc.ErrorCodeInvalidOwner:
		return http.StatusForbidden
	case jsonrpc.ErrorCodeSessionInvalid:
		return http.StatusGone
	case jsonrpc.ErrorCodeBackendUnavailable:
		return http.StatusBadGateway
	case jsonrpc.ErrorCodeResourceUnavailable:
		return http.StatusServiceUnavailable
	}
	switch engine.Classify(err) {
	case engine.ClassNotFound:
		return http.StatusNotFound
	case engine.ClassBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    jsonrpc.ErrorCode `json:"code"`
	Class   string            `json:"class"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
}

// writeHTTPError is for transport-level rejections that happen before the
// engine sees the request.
func (h *Handler) writeHTTPError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	h.writeJSON(ctx, w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func (h *Handler) writeChallenge(ctx context.Context, w http.ResponseWriter, c auth.Challenge, msg string) {
	w.Header().Set(wwwAuthenticateHeader, c.WWWAuthenticate)
	h.writeHTTPError(ctx, w, c.Status, msg)
}

func (h *Handler) writeRPC(ctx context.Context, w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	h.writeJSON(ctx, w, status, resp)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WarnContext(ctx, "http.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.DebugContext(ctx, "http.write.ok", slog.Int("status", status))
}
