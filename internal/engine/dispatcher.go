package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/internal/jsonrpc"
	"github.com/climber-engine/mcp-server-go/mcp"
)

// Dispatch kinds served by Dispatch.
const (
	KindCompletion = "completion"
	KindSampling   = "sampling"
)

// maxCompletionValues caps argument suggestions per response.
const maxCompletionValues = 100

// DispatchRequest is a model-bound request addressed by kind.
type DispatchRequest struct {
	ID     *jsonrpc.RequestID
	Kind   string
	Params []byte
}

// DispatchResponse carries either Result or Error, always under the
// request's ID.
type DispatchResponse struct {
	ID     *jsonrpc.RequestID
	Result any
	Error  *jsonrpc.Error
}

// Dispatch decodes params for kind and runs the matching strategy. Failures
// are attached to the response; Dispatch itself never fails.
func (e *Engine) Dispatch(ctx context.Context, req DispatchRequest) DispatchResponse {
	var (
		res any
		err error
	)
	switch req.Kind {
	case KindCompletion:
		var p mcp.CompletionRequest
		if err = decodeParams(req.Params, &p); err == nil {
			res, err = e.Completion(ctx, &p)
		}
	case KindSampling:
		var p mcp.CreateMessageRequest
		if err = decodeParams(req.Params, &p); err == nil {
			res, err = e.Sampling(ctx, &p)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownMethod, req.Kind)
	}
	if err != nil {
		return DispatchResponse{ID: req.ID, Error: ToRPCError(err)}
	}
	return DispatchResponse{ID: req.ID, Result: res}
}

// Completion answers argument suggestions when Ref is set, and otherwise
// forwards Messages to the backend.
func (e *Engine) Completion(ctx context.Context, req *mcp.CompletionRequest) (*mcp.CompletionResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: params are required", ErrInvalidParams)
	}
	_, ctx, err := e.touch(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if req.Ref != nil {
		c, err := e.suggest(req.Ref, req.Argument)
		if err != nil {
			return nil, err
		}
		return &mcp.CompletionResult{Completion: c}, nil
	}

	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages or ref is required", ErrInvalidParams)
	}
	res, err := e.callBackend(ctx, KindCompletion, backend.Request{
		Messages: toBackendMessages("", req.Messages),
		Provider: req.Provider,
		Model:    req.Model,
		Options:  backend.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
	})
	if err != nil {
		return nil, err
	}
	usage := res.Usage
	return &mcp.CompletionResult{
		Content:  res.Content,
		Model:    res.Model,
		Provider: res.Provider,
		Usage:    &usage,
	}, nil
}

// Sampling asks the backend for the next assistant message.
func (e *Engine) Sampling(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: params are required", ErrInvalidParams)
	}
	_, ctx, err := e.touch(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrInvalidParams)
	}

	model := req.Model
	if model == "" && req.ModelPreferences != nil {
		for _, h := range req.ModelPreferences.Hints {
			if h.Name != "" {
				model = h.Name
				break
			}
		}
	}
	res, err := e.callBackend(ctx, KindSampling, backend.Request{
		Messages: toBackendMessages(req.SystemPrompt, req.Messages),
		Provider: req.Provider,
		Model:    model,
		Options:  backend.Options{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
	})
	if err != nil {
		return nil, err
	}
	usage := res.Usage
	return &mcp.CreateMessageResult{
		Role:       mcp.RoleAssistant,
		Content:    mcp.TextContent(res.Content),
		Model:      res.Model,
		Provider:   res.Provider,
		StopReason: "end_turn",
		Usage:      &usage,
	}, nil
}

// callBackend runs one backend call. Every failure other than an unknown
// provider is reported as ErrBackendUnavailable.
func (e *Engine) callBackend(ctx context.Context, kind string, req backend.Request) (*backend.Result, error) {
	if e.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", backend.ErrBackendUnavailable)
	}
	start := time.Now()
	log := e.log.With(slog.String("kind", kind), slog.String("provider", req.Provider))
	res, err := e.backend.Call(ctx, req)
	if err == nil && res == nil {
		err = errors.New("empty result")
	}
	if err != nil {
		log.WarnContext(ctx, "engine.dispatch.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		if errors.Is(err, backend.ErrUnknownProvider) || errors.Is(err, backend.ErrBackendUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", backend.ErrBackendUnavailable, err)
	}
	log.InfoContext(ctx, "engine.dispatch.ok", slog.String("model", res.Model), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return res, nil
}

func (e *Engine) suggest(ref *mcp.CompletionReference, arg *mcp.CompleteArgument) (*mcp.Completion, error) {
	var (
		candidates []string
		prefix     string
	)
	switch strings.TrimPrefix(ref.Type, "ref/") {
	case "resource":
		candidates = e.srv.Resources().URIs()
		prefix = ref.URI
		if i := strings.IndexByte(prefix, '{'); i >= 0 {
			prefix = prefix[:i]
		}
	case "tool":
		candidates = e.srv.Tools().Names()
		prefix = ref.Name
	default:
		return nil, fmt.Errorf("%w: unsupported ref type %q", ErrInvalidParams, ref.Type)
	}
	if arg != nil && arg.Value != "" {
		prefix = arg.Value
	}

	values := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			values = append(values, c)
		}
	}
	sort.Strings(values)
	total := len(values)
	if total > maxCompletionValues {
		values = values[:maxCompletionValues]
	}
	return &mcp.Completion{Values: values, Total: total, HasMore: total > len(values)}, nil
}

func toBackendMessages(system string, in []mcp.SamplingMessage) []backend.Message {
	out := make([]backend.Message, 0, len(in)+1)
	if system != "" {
		out = append(out, backend.Message{Role: mcp.RoleSystem, Content: system})
	}
	for _, m := range in {
		role := m.Role
		if role == "" {
			role = mcp.RoleUser
		}
		out = append(out, backend.Message{Role: role, Content: m.Content.Text})
	}
	return out
}
