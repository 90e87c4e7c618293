package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/climber-engine/mcp-server-go/mcp"
)

func newPromptRegistry(t *testing.T) *PromptRegistry {
	t.Helper()
	reg, err := NewPromptRegistry(
		Prompt{
			Name:        "learning_plan",
			Description: "Create a learning plan",
			Arguments: []mcp.PromptArgument{
				{Name: "skill_level", Required: true},
				{Name: "goals", Required: true},
				{Name: "time_commitment"},
			},
			Messages: []PromptMessageTemplate{{
				Role: mcp.RoleUser,
				Text: "Level: {skill_level}\nGoals: {goals}\nTime: {time_commitment}\nKeep {literal} braces.",
			}},
		},
		Prompt{
			Name: "custom",
			Renderer: func(ctx context.Context, args map[string]string) ([]mcp.PromptMessage, error) {
				return []mcp.PromptMessage{{Role: mcp.RoleAssistant, Content: mcp.TextContent("rendered")}}, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewPromptRegistry: %v", err)
	}
	return reg
}

func TestPromptGetSubstitutes(t *testing.T) {
	reg := newPromptRegistry(t)
	res, err := reg.Get(context.Background(), "learning_plan", map[string]string{"skill_level": "beginner", "goals": "learn go"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := "Level: beginner\nGoals: learn go\nTime: \nKeep {literal} braces."
	if len(res.Messages) != 1 || res.Messages[0].Content.Text != want || res.Messages[0].Role != mcp.RoleUser {
		t.Fatalf("unexpected messages: %+v", res.Messages)
	}
	if res.Description != "Create a learning plan" {
		t.Fatalf("unexpected description %q", res.Description)
	}
}

func TestPromptGetMissingArgument(t *testing.T) {
	reg := newPromptRegistry(t)
	_, err := reg.Get(context.Background(), "learning_plan", map[string]string{"goals": "x", "skill_level": ""})
	var missing *MissingArgumentError
	if !errors.As(err, &missing) || missing.Argument != "skill_level" {
		t.Fatalf("expected missing skill_level, got %v", err)
	}
	if !errors.Is(err, ErrMissingArgument) {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
}

func TestPromptGetUnknown(t *testing.T) {
	reg := newPromptRegistry(t)
	if _, err := reg.Get(context.Background(), "missing_template", nil); !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
}

func TestPromptRenderer(t *testing.T) {
	reg := newPromptRegistry(t)
	res, err := reg.Get(context.Background(), "custom", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Messages[0].Content.Text != "rendered" {
		t.Fatalf("renderer not used: %+v", res.Messages)
	}
	if list := reg.List(); len(list) != 2 || list[0].Name != "learning_plan" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestPromptRegistryRejectsDuplicates(t *testing.T) {
	p := Prompt{Name: "a", Messages: []PromptMessageTemplate{{Role: mcp.RoleUser, Text: "x"}}}
	if _, err := NewPromptRegistry(p, p); err == nil {
		t.Fatalf("expected duplicate error")
	}
}
