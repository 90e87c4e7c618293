package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/backend/fake"
	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/health"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/internal/sessioncore"
	"github.com/climber-engine/mcp-server-go/mcp"
	"github.com/climber-engine/mcp-server-go/mcpservice"
	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/climber-engine/mcp-server-go/sessions/memorystore"
)

type analyzeArgs struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type testEnv struct {
	engine  *Engine
	backend *fake.Backend
	calls   *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	calls := &atomic.Int32{}

	tools, err := mcpservice.NewToolRegistry([]mcpservice.Tool{
		mcpservice.NewTool("analyze_code", func(ctx context.Context, r *mcpservice.ToolRequest[analyzeArgs]) (*mcp.CallToolResult, error) {
			calls.Add(1)
			return mcpservice.TextResult("analyzed: " + r.Args().Code), nil
		}),
		mcpservice.NewTool("assess_skills", func(ctx context.Context, r *mcpservice.ToolRequest[analyzeArgs]) (*mcp.CallToolResult, error) {
			return mcpservice.TextResult("ok"), nil
		}),
	})
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}

	resources, err := mcpservice.NewResourceRegistry(
		mcpservice.Resource{
			Pattern:  "climber://user/profile",
			Name:     "User Profile",
			MIMEType: "application/json",
			Resolver: func(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
				return mcpservice.JSONBody(map[string]string{"owner": req.Session.OwnerRef})
			},
		},
		mcpservice.Resource{
			Pattern:  "climber://user/{section}",
			Name:     "User Section",
			MIMEType: "application/json",
			Resolver: func(ctx context.Context, req mcpservice.ResourceRequest) (mcpservice.ResourceBody, error) {
				return mcpservice.JSONBody(map[string]string{"section": req.Vars["section"]})
			},
		},
	)
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
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "0.0.1"}),
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
	fb := fake.New("model says hi")

	return &testEnv{
		engine:  NewEngine(mgr, srv, WithBackend(fb), WithProbeTimeout(500*time.Millisecond)),
		backend: fb,
		calls:   calls,
	}
}

func (env *testEnv) initialize(t *testing.T) string {
	t.Helper()
	res, err := env.engine.Initialize(context.Background(), &mcp.InitializeRequest{
		OwnerRef:   "ada",
		ClientInfo: mcp.ImplementationInfo{Name: "test-client", Version: "1.0"},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return res.SessionID
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.initialize(t)
	second := env.initialize(t)
	if first == second {
		t.Fatalf("expected distinct session ids, got %q twice", first)
	}

	res, err := env.engine.Initialize(ctx, &mcp.InitializeRequest{OwnerRef: "ada"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	want := mcp.Capabilities{Tools: true, Resources: true, Prompts: true, Sampling: true}
	if res.Capabilities != want {
		t.Fatalf("capabilities = %+v, want %+v", res.Capabilities, want)
	}
	if res.ServerInfo.Name != "test-server" || res.ProtocolVersion != mcp.ProtocolVersion {
		t.Fatalf("unexpected initialize result: %+v", res)
	}

	_, err = env.engine.Initialize(ctx, &mcp.InitializeRequest{OwnerRef: "nobody"})
	if !errors.Is(err, sessioncore.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodeInvalidOwner {
		t.Fatalf("code = %d, want %d", got, jsonrpc.ErrorCodeInvalidOwner)
	}
}

func TestCapabilitiesNeedNoSession(t *testing.T) {
	env := newTestEnv(t)
	res := env.engine.Capabilities(context.Background())
	if !res.Capabilities.Tools || len(res.Tools) != 2 {
		t.Fatalf("unexpected capabilities: %+v", res)
	}
	if got := env.engine.DescribeTools(); len(got) != 2 || got[0].Name != "analyze_code" {
		t.Fatalf("unexpected descriptors: %+v", got)
	}
}

func TestToolsListThenUnknownTool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.initialize(t)

	list, err := env.engine.ListTools(ctx, sid)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(list.Tools) == 0 {
		t.Fatalf("expected tools")
	}

	_, err = env.engine.CallTool(ctx, &mcp.CallToolRequest{SessionID: sid, Name: "does_not_exist"})
	if !errors.Is(err, mcpservice.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if Classify(err) != ClassNotFound {
		t.Fatalf("class = %v, want not_found", Classify(err))
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("code = %d", got)
	}
}

func TestReadProfileEchoesURI(t *testing.T) {
	env := newTestEnv(t)
	sid := env.initialize(t)

	res, err := env.engine.ReadResource(context.Background(), &mcp.ReadResourceRequest{SessionID: sid, URI: "climber://user/profile"})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("expected one content, got %d", len(res.Contents))
	}
	c := res.Contents[0]
	if c.URI != "climber://user/profile" || c.Text == "" {
		t.Fatalf("unexpected contents: %+v", c)
	}
	if !strings.Contains(c.Text, `"owner": "1"`) {
		t.Fatalf("profile should resolve for the session owner: %s", c.Text)
	}

	res, err = env.engine.ReadResource(context.Background(), &mcp.ReadResourceRequest{SessionID: sid, URI: "climber://user/goals"})
	if err != nil {
		t.Fatalf("ReadResource template: %v", err)
	}
	if !strings.Contains(res.Contents[0].Text, "goals") {
		t.Fatalf("template should capture section: %s", res.Contents[0].Text)
	}

	_, err = env.engine.ReadResource(context.Background(), &mcp.ReadResourceRequest{SessionID: sid, URI: "file:///etc/passwd"})
	if !errors.Is(err, mcpservice.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodeResourceNotFound {
		t.Fatalf("code = %d", got)
	}
}

func TestScopedCallAfterClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.initialize(t)

	out, err := env.engine.CloseSession(ctx, sid)
	if err != nil || !out.Closed {
		t.Fatalf("CloseSession = %+v, %v", out, err)
	}

	_, err = env.engine.ListTools(ctx, sid)
	if !errors.Is(err, sessions.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodeSessionInvalid {
		t.Fatalf("code = %d", got)
	}

	_, err = env.engine.ListTools(ctx, "never-issued")
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodeSessionNotFound {
		t.Fatalf("code = %d", got)
	}

	info, err := env.engine.GetSession(ctx, sid)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if info.Status != mcp.SessionStatusClosed || info.ClosedAt.IsZero() {
		t.Fatalf("closed session should stay readable: %+v", info)
	}

	again, err := env.engine.CloseSession(ctx, sid)
	if err != nil || again.Closed {
		t.Fatalf("second close = %+v, %v", again, err)
	}
}

func TestGetPrompt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.GetPrompt(ctx, &mcp.GetPromptRequest{Name: "missing_template"})
	if !errors.Is(err, mcpservice.ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
	if got := ToRPCError(err).Code; got != jsonrpc.ErrorCodePromptNotFound {
		t.Fatalf("code = %d", got)
	}

	_, err = env.engine.GetPrompt(ctx, &mcp.GetPromptRequest{Name: "code_review"})
	if !errors.Is(err, mcpservice.ErrMissingArgument) {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
	rpcErr := ToRPCError(err)
	if rpcErr.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("code = %d", rpcErr.Code)
	}
	if data, _ := rpcErr.Data.(map[string]string); data["argument"] != "code" {
		t.Fatalf("unexpected data: %#v", rpcErr.Data)
	}

	res, err := env.engine.GetPrompt(ctx, &mcp.GetPromptRequest{Name: "code_review", Arguments: map[string]string{"code": "x := 1"}})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if res.Messages[0].Content.Text != "Review:\nx := 1" {
		t.Fatalf("unexpected render: %q", res.Messages[0].Content.Text)
	}

	if got := env.engine.ListPrompts(ctx); len(got.Prompts) != 1 {
		t.Fatalf("unexpected prompts: %+v", got)
	}
}

func TestMissingRequiredArgumentSkipsHandler(t *testing.T) {
	env := newTestEnv(t)
	sid := env.initialize(t)

	_, err := env.engine.CallTool(context.Background(), &mcp.CallToolRequest{
		SessionID: sid,
		Name:      "analyze_code",
		Arguments: json.RawMessage(`{"language":"go"}`),
	})
	var argErr *mcpservice.ArgumentError
	if !errors.As(err, &argErr) || argErr.Field != "code" {
		t.Fatalf("expected ArgumentError on code, got %v", err)
	}
	if Classify(err) != ClassBadRequest {
		t.Fatalf("class = %v", Classify(err))
	}
	rpcErr := ToRPCError(err)
	if rpcErr.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("code = %d", rpcErr.Code)
	}
	if data, _ := rpcErr.Data.(map[string]string); data["field"] != "code" {
		t.Fatalf("unexpected data: %#v", rpcErr.Data)
	}
	if n := env.calls.Load(); n != 0 {
		t.Fatalf("handler ran %d times", n)
	}

	res, err := env.engine.CallTool(context.Background(), &mcp.CallToolRequest{
		SessionID: sid,
		Name:      "analyze_code",
		Arguments: json.RawMessage(`{"code":"print(1)"}`),
	})
	if err != nil || res.IsError {
		t.Fatalf("CallTool = %+v, %v", res, err)
	}
	if env.calls.Load() != 1 {
		t.Fatalf("handler should run once")
	}
}

func TestConcurrentCloseSession(t *testing.T) {
	env := newTestEnv(t)
	sid := env.initialize(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.engine.CloseSession(context.Background(), sid)
			if err != nil {
				t.Errorf("CloseSession: %v", err)
				return
			}
			if out.Closed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.initialize(t)
	}
	page, err := env.engine.ListSessions(ctx, &mcp.ListSessionsRequest{Skip: 1, Limit: 5})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if page.Total != 3 || len(page.Sessions) != 2 || page.Skip != 1 || page.Limit != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}

	page, err = env.engine.ListSessions(ctx, nil)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if page.Limit != sessions.DefaultListLimit || len(page.Sessions) != 3 {
		t.Fatalf("unexpected default page: %+v", page)
	}
}

func TestCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sid := env.initialize(t)

	t.Run("tool suggestions", func(t *testing.T) {
		res, err := env.engine.Completion(ctx, &mcp.CompletionRequest{
			SessionID: sid,
			Ref:       &mcp.CompletionReference{Type: "tool"},
			Argument:  &mcp.CompleteArgument{Name: "name", Value: "ana"},
		})
		if err != nil {
			t.Fatalf("Completion: %v", err)
		}
		if res.Completion == nil || len(res.Completion.Values) != 1 || res.Completion.Values[0] != "analyze_code" {
			t.Fatalf("unexpected suggestions: %+v", res.Completion)
		}
		if len(env.backend.Calls()) != 0 {
			t.Fatalf("suggestions must not call the backend")
		}
	})

	t.Run("resource suggestions", func(t *testing.T) {
		res, err := env.engine.Completion(ctx, &mcp.CompletionRequest{
			SessionID: sid,
			Ref:       &mcp.CompletionReference{Type: "ref/resource", URI: "climber://{section}"},
		})
		if err != nil {
			t.Fatalf("Completion: %v", err)
		}
		if res.Completion.Total != 1 || res.Completion.Values[0] != "climber://user/profile" {
			t.Fatalf("unexpected suggestions: %+v", res.Completion)
		}
	})

	t.Run("model completion", func(t *testing.T) {
		res, err := env.engine.Completion(ctx, &mcp.CompletionRequest{
			SessionID: sid,
			Messages:  []mcp.SamplingMessage{{Role: mcp.RoleUser, Content: mcp.TextContent("hello")}},
			Provider:  "fake",
		})
		if err != nil {
			t.Fatalf("Completion: %v", err)
		}
		if res.Content != "model says hi" || res.Provider != "fake" || res.Usage == nil {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("no messages", func(t *testing.T) {
		_, err := env.engine.Completion(ctx, &mcp.CompletionRequest{SessionID: sid})
		if !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("expected ErrInvalidParams, got %v", err)
		}
	})
}

func TestSampling(t *testing.T) {
	env := newTestEnv(t)
	sid := env.initialize(t)

	res, err := env.engine.Sampling(context.Background(), &mcp.CreateMessageRequest{
		SessionID:        sid,
		SystemPrompt:     "be brief",
		Messages:         []mcp.SamplingMessage{{Role: mcp.RoleUser, Content: mcp.TextContent("hi")}},
		ModelPreferences: &mcp.ModelPreferences{Hints: []mcp.ModelHint{{Name: "gpt-4"}}},
	})
	if err != nil {
		t.Fatalf("Sampling: %v", err)
	}
	if res.Role != mcp.RoleAssistant || res.StopReason != "end_turn" || res.Content.Text != "model says hi" {
		t.Fatalf("unexpected result: %+v", res)
	}

	calls := env.backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one backend call, got %d", len(calls))
	}
	got := calls[0]
	if got.Model != "gpt-4" || len(got.Messages) != 2 || got.Messages[0].Role != mcp.RoleSystem {
		t.Fatalf("unexpected backend request: %+v", got)
	}
}

func TestDispatch(t *testing.T) {
	env := newTestEnv(t)
	sid := env.initialize(t)
	id := jsonrpc.NewRequestID("req-9")

	env.backend.Handler = func(ctx context.Context, req backend.Request) (*backend.Result, error) {
		return nil, errors.New("connection refused")
	}
	params, _ := json.Marshal(mcp.CreateMessageRequest{
		SessionID: sid,
		Messages:  []mcp.SamplingMessage{{Role: mcp.RoleUser, Content: mcp.TextContent("hi")}},
	})

	out := env.engine.Dispatch(context.Background(), DispatchRequest{ID: id, Kind: KindSampling, Params: params})
	if out.ID != id {
		t.Fatalf("response id must equal request id")
	}
	if out.Error == nil || out.Error.Code != jsonrpc.ErrorCodeBackendUnavailable {
		t.Fatalf("expected backend unavailable, got %+v", out.Error)
	}

	out = env.engine.Dispatch(context.Background(), DispatchRequest{ID: id, Kind: "embedding"})
	if out.Error == nil || out.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", out.Error)
	}

	out = env.engine.Dispatch(context.Background(), DispatchRequest{ID: id, Kind: KindCompletion, Params: []byte(`{"messages":"nope"}`)})
	if out.Error == nil || out.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", out.Error)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.initialize(t)

	rep := env.engine.Health(context.Background())
	if rep.Status != health.StatusHealthy {
		t.Fatalf("status = %s: %+v", rep.Status, rep.Components)
	}
	if _, ok := rep.Components["session_store"]; !ok {
		t.Fatalf("missing session_store component: %+v", rep.Components)
	}
	if _, ok := rep.Components["provider/fake"]; !ok {
		t.Fatalf("missing provider component: %+v", rep.Components)
	}
	if rep.ActiveSessions != 1 || rep.TotalSessions != 1 {
		t.Fatalf("unexpected counts: %+v", rep)
	}

	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"status":"healthy"`, `"active_sessions":1`, `"server_info"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("health json missing %s: %s", want, b)
		}
	}

	env.backend.ProbeHandler = func(ctx context.Context, name string) error { return errors.New("down") }
	if rep := env.engine.Health(context.Background()); rep.Status != health.StatusDegraded {
		t.Fatalf("expected degraded, got %s", rep.Status)
	}
}

func TestSessionOwnerScoping(t *testing.T) {
	env := newTestEnv(t)
	adaSID := env.initialize(t)
	grace := WithOwner(context.Background(), "grace")
	graceRes, err := env.engine.Initialize(grace, &mcp.InitializeRequest{OwnerRef: "grace", AgentID: "agent-7"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := env.engine.GetSession(grace, adaSID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected foreign session to be hidden, got %v", err)
	}
	if _, err := env.engine.ListTools(grace, adaSID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected foreign touch to fail, got %v", err)
	}
	if _, err := env.engine.CloseSession(grace, adaSID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected foreign close to fail, got %v", err)
	}
	if res, err := env.engine.CloseSession(grace, "never-issued"); err != nil || res.Closed {
		t.Fatalf("closing an unknown id: %+v %v", res, err)
	}

	info, err := env.engine.GetSession(context.Background(), adaSID)
	if err != nil || info.Status != mcp.SessionStatusActive || info.MessageCount != 0 {
		t.Fatalf("foreign calls changed the session: %+v %v", info, err)
	}

	page, err := env.engine.ListSessions(grace, nil)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if page.Total != 1 || len(page.Sessions) != 1 || page.Sessions[0].SessionID != graceRes.SessionID {
		t.Fatalf("unexpected owner page: %+v", page)
	}
	if page.Sessions[0].AgentID != "agent-7" || page.Sessions[0].OwnerRef != "2" {
		t.Fatalf("unexpected session info: %+v", page.Sessions[0])
	}

	all, err := env.engine.ListSessions(context.Background(), nil)
	if err != nil || all.Total != 2 {
		t.Fatalf("unbound callers see every session: %+v %v", all, err)
	}
}
