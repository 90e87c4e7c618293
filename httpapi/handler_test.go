package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/climber-engine/mcp-server-go/auth/authtest"
	"github.com/climber-engine/mcp-server-go/backend/fake"
	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/internal/engine"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/sessioncore"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions/memorystore"
)

type codeArgs struct {
	Code string `json:"code"`
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	tools, err := mcpservice.NewToolRegistry([]mcpservice.Tool{
		mcpservice.NewTool("analyze_code", func(ctx context.Context, r *mcpservice.ToolRequest[codeArgs]) (*mcp.CallToolResult, error) {
			return mcpservice.TextResult("analyzed: " + r.Args().Code), nil
		}),
	})
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	resources, err := mcpservice.NewResourceRegistry(mcpservice.Resource{
		Pattern:  "climber://user/profile",
		Name:     "User Profile",
		MIMEType: "application/json",
		Resolver: func(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
			return mcpservice.JSONBody(map[string]string{"owner": req.Session.OwnerRef})
		},
	})
	if err != nil {
		t.Fatalf("NewResourceRegistry: %v", err)
	}
	prompts, err := mcpservice.NewPromptRegistry(mcpservice.Prompt{
		Name:      "code_review",
		Arguments: []mcp.PromptArgument{{Name: "code", Required: true}},
		Messages:  []mcpservice.PromptMessageTemplate{{Role: mcp.RoleUser, Text: "Review:\n{code}"}},
	})
	if err != nil {
		t.Fatalf("NewPromptRegistry: %v", err)
	}

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "http-test", Version: "0.0.1"}),
		mcpservice.WithTools(tools),
		mcpservice.WithResources(resources),
		mcpservice.WithPrompts(prompts),
		mcpservice.WithSampling(true),
	)
	dir := directory.NewStatic(
		directory.Owner{ID: "1", Username: "ada", Active: true},
		directory.Owner{ID: "2", Username: "grace", Active: true},
	)
	mgr := sessioncore.NewManager(memorystore.New(), dir, sessioncore.ManagerConfig{Server: srv.Capabilities()})
	eng := engine.NewEngine(mgr, srv, engine.WithBackend(fake.New("hello from the model")))

	h, err := New(eng, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func initialize(t *testing.T, base string, header map[string]string) string {
	t.Helper()
	resp := do(t, http.MethodPost, base+"/mcp/initialize", mcp.InitializeRequest{
		OwnerRef:   "ada",
		ClientInfo: mcp.ImplementationInfo{Name: "http-client", Version: "1"},
	}, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	var res mcp.InitializeResult
	decodeBody(t, resp, &res)
	if res.SessionID == "" {
		t.Fatalf("expected session id")
	}
	return res.SessionID
}

func TestRESTLifecycle(t *testing.T) {
	ts := newTestServer(t)
	sid := initialize(t, ts.URL, nil)

	resp := do(t, http.MethodGet, ts.URL+"/mcp/tools?session_id="+sid, nil, nil)
	var tools mcp.ListToolsResult
	decodeBody(t, resp, &tools)
	if resp.StatusCode != http.StatusOK || len(tools.Tools) != 1 {
		t.Fatalf("tools: status %d, %+v", resp.StatusCode, tools)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp/tools/call", mcp.CallToolRequest{
		SessionID: sid, Name: "analyze_code", Arguments: json.RawMessage(`{"code":"x := 1"}`),
	}, nil)
	var call mcp.CallToolResult
	decodeBody(t, resp, &call)
	if call.IsError || call.Content[0].Text != "analyzed: x := 1" {
		t.Fatalf("unexpected call result: %+v", call)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp/resources/read", mcp.ReadResourceRequest{SessionID: sid, URI: "climber://user/profile"}, nil)
	var read mcp.ReadResourceResult
	decodeBody(t, resp, &read)
	if len(read.Contents) != 1 || read.Contents[0].URI != "climber://user/profile" || read.Contents[0].Text == "" {
		t.Fatalf("unexpected read result: %+v", read)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/sessions/"+sid, nil, nil)
	var info mcp.SessionInfo
	decodeBody(t, resp, &info)
	if info.SessionID != sid || info.OwnerRef != "1" {
		t.Fatalf("unexpected session info: %+v", info)
	}

	resp = do(t, http.MethodDelete, ts.URL+"/mcp/sessions/"+sid, nil, nil)
	var closed mcp.CloseSessionResult
	decodeBody(t, resp, &closed)
	if !closed.Closed {
		t.Fatalf("expected close to succeed")
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/tools?session_id="+sid, nil, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("tools after close: status %d, want %d", resp.StatusCode, http.StatusGone)
	}
	var body errorBody
	decodeBody(t, resp, &body)
	if body.Error.Code != jsonrpc.ErrorCodeSessionInvalid || body.Error.Class != "failure" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestRESTErrorStatus(t *testing.T) {
	ts := newTestServer(t)
	sid := initialize(t, ts.URL, nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   jsonrpc.ErrorCode
	}{
		{"unknown tool", http.MethodPost, "/mcp/tools/call", mcp.CallToolRequest{SessionID: sid, Name: "nope"}, http.StatusNotFound, jsonrpc.ErrorCodeMethodNotFound},
		{"missing argument", http.MethodPost, "/mcp/tools/call", mcp.CallToolRequest{SessionID: sid, Name: "analyze_code", Arguments: json.RawMessage(`{}`)}, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams},
		{"unknown session", http.MethodGet, "/mcp/tools?session_id=missing", nil, http.StatusNotFound, jsonrpc.ErrorCodeSessionNotFound},
		{"no session id", http.MethodGet, "/mcp/resources", nil, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams},
		{"invalid owner", http.MethodPost, "/mcp/initialize", mcp.InitializeRequest{OwnerRef: "mallory"}, http.StatusForbidden, jsonrpc.ErrorCodeInvalidOwner},
		{"unknown prompt", http.MethodPost, "/mcp/prompts/get", mcp.GetPromptRequest{Name: "missing_template"}, http.StatusNotFound, jsonrpc.ErrorCodePromptNotFound},
		{"unknown scheme", http.MethodPost, "/mcp/resources/read", mcp.ReadResourceRequest{SessionID: sid, URI: "ftp://x"}, http.StatusNotFound, jsonrpc.ErrorCodeResourceNotFound},
		{"bad limit", http.MethodGet, "/mcp/sessions?limit=ten", nil, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams},
		{"malformed body", http.MethodPost, "/mcp/tools/call", `{"sessionId":`, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, tc.method, ts.URL+tc.path, tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			var body errorBody
			decodeBody(t, resp, &body)
			if body.Error.Code != tc.code {
				t.Fatalf("code = %d, want %d (%s)", body.Error.Code, tc.code, body.Error.Message)
			}
		})
	}
}

func TestMissingArgumentNamesField(t *testing.T) {
	ts := newTestServer(t)
	sid := initialize(t, ts.URL, nil)

	resp := do(t, http.MethodPost, ts.URL+"/mcp/tools/call", mcp.CallToolRequest{SessionID: sid, Name: "analyze_code", Arguments: json.RawMessage(`{}`)}, nil)
	var body struct {
		Error struct {
			Data map[string]string `json:"data"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Data["field"] != "code" {
		t.Fatalf("expected error data to name code, got %+v", body.Error.Data)
	}
}

func TestStatelessRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/mcp/capabilities", nil, nil)
	var caps mcp.CapabilitiesResult
	decodeBody(t, resp, &caps)
	if resp.StatusCode != http.StatusOK || !caps.Capabilities.Tools || caps.ServerInfo.Name != "http-test" {
		t.Fatalf("unexpected capabilities: %d %+v", resp.StatusCode, caps)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/prompts", nil, nil)
	var prompts mcp.ListPromptsResult
	decodeBody(t, resp, &prompts)
	if len(prompts.Prompts) != 1 || prompts.Prompts[0].Name != "code_review" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/health", nil, nil)
	var rep map[string]any
	decodeBody(t, resp, &rep)
	if resp.StatusCode != http.StatusOK || rep["status"] != "healthy" {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, rep)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp/notifications", mcp.Notification{Method: "notifications/initialized"}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("notification status = %d", resp.StatusCode)
	}
}

func TestSamplingRoute(t *testing.T) {
	ts := newTestServer(t)
	sid := initialize(t, ts.URL, nil)

	resp := do(t, http.MethodPost, ts.URL+"/mcp/sampling", mcp.CreateMessageRequest{
		SessionID: sid,
		Messages:  []mcp.SamplingMessage{{Role: mcp.RoleUser, Content: mcp.TextContent("hi")}},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sampling status = %d", resp.StatusCode)
	}
	var res mcp.CreateMessageResult
	decodeBody(t, resp, &res)
	if res.Content.Text != "hello from the model" || res.Role != mcp.RoleAssistant {
		t.Fatalf("unexpected sampling result: %+v", res)
	}
}

func TestJSONRPCEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/mcp",
		`{"jsonrpc":"2.0","id":7,"method":"initialize","params":{"ownerRef":"ada"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rpcResp jsonrpc.Response
	decodeBody(t, resp, &rpcResp)
	if rpcResp.Error != nil || rpcResp.ID.String() != "7" {
		t.Fatalf("unexpected response: %+v", rpcResp)
	}
	var init mcp.InitializeResult
	if err := json.Unmarshal(rpcResp.Result, &init); err != nil || init.SessionID == "" {
		t.Fatalf("bad initialize result: %v %s", err, rpcResp.Result)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp",
		`{"jsonrpc":"2.0","id":"x","method":"tools/call","params":{"sessionId":"`+init.SessionID+`","name":"nope"}}`, nil)
	decodeBody(t, resp, &rpcResp)
	if resp.StatusCode != http.StatusOK || rpcResp.Error == nil || rpcResp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found in a 200 envelope, got %d %+v", resp.StatusCode, rpcResp.Error)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("notification status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp", `{not json`, nil)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadRequest || !bytes.Contains(raw, []byte(`"id":null`)) || !bytes.Contains(raw, []byte(`-32700`)) {
		t.Fatalf("parse error: %d %s", resp.StatusCode, raw)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("batch status = %d", resp.StatusCode)
	}
}

func TestContentNegotiation(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/mcp/capabilities", nil, map[string]string{"Accept": "text/html"})
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("Accept text/html: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp/initialize", `{"ownerRef":"ada"}`, map[string]string{"Content-Type": "text/plain"})
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain body: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/capabilities", nil, map[string]string{"Accept": "application/*"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Accept application/*: status %d", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, WithAuthenticator(authtest.StaticTokens{"good": "ada"}), WithRealm("climber"))

	resp := do(t, http.MethodGet, ts.URL+"/mcp/capabilities", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Bearer realm="climber"` {
		t.Fatalf("challenge = %q", got)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/capabilities", nil, map[string]string{"Authorization": "Bearer bad"})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`) {
		t.Fatalf("bad token: status %d, challenge %q", resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", resp.StatusCode)
	}

	good := map[string]string{"Authorization": "Bearer good"}
	resp = do(t, http.MethodPost, ts.URL+"/mcp/initialize", mcp.InitializeRequest{OwnerRef: "mallory"}, good)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token subject should replace the requested owner, got %d", resp.StatusCode)
	}
	var res mcp.InitializeResult
	decodeBody(t, resp, &res)

	resp = do(t, http.MethodGet, ts.URL+"/mcp/sessions/"+res.SessionID, nil, good)
	var info mcp.SessionInfo
	decodeBody(t, resp, &info)
	if info.OwnerRef != "1" {
		t.Fatalf("owner = %q, want 1", info.OwnerRef)
	}
}

func TestSessionsAreScopedToTokenOwner(t *testing.T) {
	ts := newTestServer(t, WithAuthenticator(authtest.StaticTokens{"good": "ada", "other": "grace"}))
	ada := map[string]string{"Authorization": "Bearer good"}
	grace := map[string]string{"Authorization": "Bearer other"}

	adaSID := initialize(t, ts.URL, ada)
	graceSID := initialize(t, ts.URL, grace)

	resp := do(t, http.MethodGet, ts.URL+"/mcp/sessions", nil, grace)
	var list mcp.ListSessionsResult
	decodeBody(t, resp, &list)
	if list.Total != 1 || len(list.Sessions) != 1 || list.Sessions[0].SessionID != graceSID {
		t.Fatalf("grace should only see her own session: %+v", list)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp/resources/read",
		mcp.ReadResourceRequest{SessionID: adaSID, URI: "climber://user/profile"}, grace)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign resource read: status %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, ts.URL+"/mcp/sessions/"+adaSID, nil, grace)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session get: status %d", resp.StatusCode)
	}
	resp = do(t, http.MethodDelete, ts.URL+"/mcp/sessions/"+adaSID, nil, grace)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session close: status %d", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, ts.URL+"/mcp",
		`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"sessionId":"`+adaSID+`"}}`, grace)
	var rpcResp jsonrpc.Response
	decodeBody(t, resp, &rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != jsonrpc.ErrorCodeSessionNotFound {
		t.Fatalf("foreign JSON-RPC call: %+v", rpcResp.Error)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/sessions/"+adaSID, nil, ada)
	var info mcp.SessionInfo
	decodeBody(t, resp, &info)
	if info.Status != mcp.SessionStatusActive || info.MessageCount != 0 {
		t.Fatalf("foreign calls changed ada's session: %+v", info)
	}

	resp = do(t, http.MethodGet, ts.URL+"/mcp/tools?session_id="+adaSID, nil, ada)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner list tools: status %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, ts.URL+"/mcp/sessions/"+adaSID, nil, ada)
	decodeBody(t, resp, &info)
	if info.MessageCount != 1 {
		t.Fatalf("message count = %d, want 1", info.MessageCount)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&jsonrpc.Error{Code: jsonrpc.ErrorCodeBackendUnavailable}, http.StatusBadGateway},
		{&jsonrpc.Error{Code: jsonrpc.ErrorCodeResourceUnavailable}, http.StatusServiceUnavailable},
		{&jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError}, http.StatusInternalServerError},
		{engine.ErrUnknownMethod, http.StatusNotFound},
		{engine.ErrInvalidParams, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
