// Package fake provides a scripted backend.Backend for tests and for running
// the server without any configured provider.
package fake

import (
	"context"
	"sync"

	"github.com/climber-engine/mcp-server-go/backend"
)

// Backend replies with a fixed text unless Handler is set. Probe results
// come from ProbeHandler, or succeed when it is nil.
type Backend struct {
	Reply        string
	Names        []string
	Handler      func(ctx context.Context, req backend.Request) (*backend.Result, error)
	ProbeHandler func(ctx context.Context, name string) error

	mu    sync.Mutex
	calls []backend.Request
}

// New returns a Backend that answers every call with reply.
func New(reply string) *Backend {
	return &Backend{Reply: reply, Names: []string{"fake"}}
}

func (b *Backend) Call(ctx context.Context, req backend.Request) (*backend.Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	if b.Handler != nil {
		return b.Handler(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	provider := req.Provider
	if provider == "" {
		provider = "fake"
	}
	model := req.Model
	if model == "" {
		model = "fake-model"
	}
	return &backend.Result{
		Content:    b.Reply,
		Model:      model,
		Provider:   provider,
		StopReason: "stop",
	}, nil
}

// Calls returns a copy of every request received so far.
func (b *Backend) Calls() []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Request, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) Providers() []string { return append([]string(nil), b.Names...) }

func (b *Backend) Probe(ctx context.Context, name string) error {
	if b.ProbeHandler != nil {
		return b.ProbeHandler(ctx, name)
	}
	return nil
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Prober  = (*Backend)(nil)
)
