package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/climber-engine/mcp-server-go/mcp"
)

type analyzeArgs struct {
	Code     string `json:"code" jsonschema:"description=Source code to analyze"`
	Language string `json:"language,omitempty" jsonschema:"enum=python,enum=go,enum=javascript"`
}

type taskArgs struct {
	SkillAreas []string `json:"skill_areas"`
	Count      int      `json:"count,omitempty" jsonschema:"minimum=1,maximum=10"`
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := NewTool("generate", func(ctx context.Context, r *ToolRequest[taskArgs]) (*mcp.CallToolResult, error) {
		return TextResult("ok"), nil
	}, WithToolDescription("Generate tasks"))

	s := tool.Descriptor.InputSchema
	if tool.Descriptor.Description != "Generate tasks" {
		t.Fatalf("description not applied: %q", tool.Descriptor.Description)
	}
	if len(s.Required) != 1 || s.Required[0] != "skill_areas" {
		t.Fatalf("unexpected required: %v", s.Required)
	}
	areas := s.Properties["skill_areas"]
	if areas.Type != "array" || areas.Items == nil || areas.Items.Type != "string" {
		t.Fatalf("unexpected skill_areas schema: %+v", areas)
	}
	count := s.Properties["count"]
	if count.Type != "integer" || count.Minimum == nil || *count.Minimum != 1 || count.Maximum == nil || *count.Maximum != 10 {
		t.Fatalf("unexpected count schema: %+v", count)
	}
}

func newAnalyzeRegistry(t *testing.T, calls *atomic.Int32, opts ...ToolRegistryOption) *ToolRegistry {
	t.Helper()
	tool := NewTool("analyze_code", func(ctx context.Context, r *ToolRequest[analyzeArgs]) (*mcp.CallToolResult, error) {
		calls.Add(1)
		if r.Args().Code == "panic" {
			panic("boom")
		}
		if r.Args().Code == "fail" {
			return nil, errors.New("upstream exploded")
		}
		return TextResult("analyzed " + r.Args().Code + " for " + r.SessionID()), nil
	})
	reg, err := NewToolRegistry([]Tool{tool}, opts...)
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	return reg
}

func TestToolRegistryRejectsDuplicates(t *testing.T) {
	h := func(context.Context, ToolCall) (*mcp.CallToolResult, error) { return nil, nil }
	_, err := NewToolRegistry([]Tool{
		{Descriptor: mcp.Tool{Name: "a"}, Handler: h},
		{Descriptor: mcp.Tool{Name: "a"}, Handler: h},
	})
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestToolRegistryCall(t *testing.T) {
	var calls atomic.Int32
	var observed []ToolInvocation
	reg := newAnalyzeRegistry(t, &calls, WithInvocationObserver(func(inv ToolInvocation) {
		observed = append(observed, inv)
	}))
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		res, err := reg.Call(ctx, "s1", "analyze_code", json.RawMessage(`{"code":"x = 1"}`))
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if res.IsError || res.Content[0].Text != "analyzed x = 1 for s1" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := reg.Call(ctx, "s1", "nope", nil)
		if !errors.Is(err, ErrToolNotFound) {
			t.Fatalf("expected ErrToolNotFound, got %v", err)
		}
	})

	t.Run("missing required skips handler", func(t *testing.T) {
		before := calls.Load()
		_, err := reg.Call(ctx, "s1", "analyze_code", json.RawMessage(`{"language":"go"}`))
		var argErr *ArgumentError
		if !errors.As(err, &argErr) || argErr.Field != "code" {
			t.Fatalf("expected ArgumentError on code, got %v", err)
		}
		if !errors.Is(err, ErrInvalidArguments) {
			t.Fatalf("expected ErrInvalidArguments, got %v", err)
		}
		if calls.Load() != before {
			t.Fatalf("handler ran despite invalid arguments")
		}
	})

	t.Run("handler error becomes result", func(t *testing.T) {
		res, err := reg.Call(ctx, "s1", "analyze_code", json.RawMessage(`{"code":"fail"}`))
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if !res.IsError || res.Content[0].Text != "Error calling tool analyze_code: upstream exploded" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("panic becomes result", func(t *testing.T) {
		res, err := reg.Call(ctx, "s1", "analyze_code", json.RawMessage(`{"code":"panic"}`))
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if !res.IsError {
			t.Fatalf("expected error result for panic")
		}
	})

	if len(observed) != 3 {
		t.Fatalf("expected 3 observed invocations, got %d", len(observed))
	}
	if observed[0].Outcome != OutcomeOK || observed[1].Outcome != OutcomeToolError {
		t.Fatalf("unexpected outcomes: %v %v", observed[0].Outcome, observed[1].Outcome)
	}
	if observed[0].Duration() < 0 || observed[0].SessionID != "s1" {
		t.Fatalf("unexpected invocation: %+v", observed[0])
	}
}

func TestToolRegistryListOrder(t *testing.T) {
	h := func(context.Context, ToolCall) (*mcp.CallToolResult, error) { return nil, nil }
	reg, err := NewToolRegistry([]Tool{
		{Descriptor: mcp.Tool{Name: "zeta"}, Handler: h},
		{Descriptor: mcp.Tool{Name: "alpha"}, Handler: h},
	})
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	list := reg.List()
	if len(list) != 2 || list[0].Name != "zeta" || list[1].Name != "alpha" {
		t.Fatalf("expected registration order, got %+v", list)
	}
	if _, ok := reg.Lookup("alpha"); !ok {
		t.Fatalf("lookup failed")
	}
}

func TestJSONResult(t *testing.T) {
	res, err := JSONResult(map[string]any{"score": 7})
	if err != nil {
		t.Fatalf("JSONResult: %v", err)
	}
	if res.Content[0].Text != "{\n  \"score\": 7\n}" {
		t.Fatalf("unexpected text %q", res.Content[0].Text)
	}
	if res.StructuredContent["score"] != float64(7) {
		t.Fatalf("unexpected structured content: %v", res.StructuredContent)
	}
}
