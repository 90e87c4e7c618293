package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/climber-engine/mcp-server-go/mcp"
)

var (
	// ErrPromptNotFound is returned for an unregistered prompt name.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrMissingArgument is the sentinel wrapped by *MissingArgumentError.
	ErrMissingArgument = errors.New("missing required argument")
)

// MissingArgumentError names the first required prompt argument that was
// absent or empty.
type MissingArgumentError struct {
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument: %s", e.Argument)
}

func (e *MissingArgumentError) Unwrap() error { return ErrMissingArgument }

// PromptMessageTemplate is one message whose Text may reference arguments
// as {name}. Placeholders for absent optional arguments render empty.
type PromptMessageTemplate struct {
	Role mcp.Role
	Text string
}

// PromptRenderer builds messages from validated arguments. It replaces the
// template path when set.
type PromptRenderer func(ctx context.Context, args map[string]string) ([]mcp.PromptMessage, error)

// Prompt is a registered prompt template.
type Prompt struct {
	Name        string
	Description string
	Arguments   []mcp.PromptArgument
	Messages    []PromptMessageTemplate
	Renderer    PromptRenderer
}

// Descriptor returns the listing form of p.
func (p Prompt) Descriptor() mcp.Prompt {
	return mcp.Prompt{Name: p.Name, Description: p.Description, Arguments: p.Arguments}
}

// PromptRegistry is an immutable, ordered set of prompts.
type PromptRegistry struct {
	prompts []Prompt
	byName  map[string]int
}

// NewPromptRegistry builds a registry. Names must be unique and each prompt
// needs messages or a renderer.
func NewPromptRegistry(prompts ...Prompt) (*PromptRegistry, error) {
	r := &PromptRegistry{byName: make(map[string]int, len(prompts))}
	for _, p := range prompts {
		if p.Name == "" {
			return nil, errors.New("prompt registry: prompt name is required")
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("prompt registry: duplicate prompt %q", p.Name)
		}
		if p.Renderer == nil && len(p.Messages) == 0 {
			return nil, fmt.Errorf("prompt registry: prompt %q has no messages", p.Name)
		}
		r.byName[p.Name] = len(r.prompts)
		r.prompts = append(r.prompts, p)
	}
	return r, nil
}

// Len reports the number of registered prompts.
func (r *PromptRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.prompts)
}

// List returns descriptors in registration order.
func (r *PromptRegistry) List() []mcp.Prompt {
	out := []mcp.Prompt{}
	if r == nil {
		return out
	}
	for _, p := range r.prompts {
		out = append(out, p.Descriptor())
	}
	return out
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Get renders the named prompt. Required arguments are checked in declared
// order; the first absent or empty one is reported.
func (r *PromptRegistry) Get(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	p := r.prompts[i]

	for _, a := range p.Arguments {
		if a.Required && args[a.Name] == "" {
			return nil, &MissingArgumentError{Argument: a.Name}
		}
	}

	if p.Renderer != nil {
		msgs, err := p.Renderer(ctx, args)
		if err != nil {
			return nil, err
		}
		return &mcp.GetPromptResult{Description: p.Description, Messages: msgs}, nil
	}

	declared := make(map[string]bool, len(p.Arguments))
	for _, a := range p.Arguments {
		declared[a.Name] = true
	}
	msgs := make([]mcp.PromptMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		text := placeholder.ReplaceAllStringFunc(m.Text, func(tok string) string {
			key := tok[1 : len(tok)-1]
			if !declared[key] {
				return tok
			}
			return args[key]
		})
		msgs = append(msgs, mcp.PromptMessage{Role: m.Role, Content: mcp.TextContent(text)})
	}
	return &mcp.GetPromptResult{Description: p.Description, Messages: msgs}, nil
}
