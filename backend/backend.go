// Package backend defines the language model collaborator used by the
// completion and sampling dispatchers and by the climber tools.
package backend

import (
	"context"
	"errors"

	"github.com/climber-engine/mcp-server-go/mcp"
)

var (
	// ErrBackendUnavailable wraps every transport, status or decoding
	// failure of a provider call.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrUnknownProvider is returned when a request names a provider that
	// is not configured.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Defaults applied when a request leaves the option unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    mcp.Role `json:"role"`
	Content string   `json:"content"`
}

// Options tune a single call. Nil or zero fields fall back to the defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Request is a chat completion request. Empty Provider selects the
// backend's default provider; empty Model selects that provider's default.
type Request struct {
	Messages []Message
	Provider string
	Model    string
	Options  Options
}

// Result is a successful provider response.
type Result struct {
	Content    string
	Model      string
	Provider   string
	StopReason string
	Usage      mcp.Usage
}

// Backend performs chat completions. A failed call returns a nil result and
// an error; there is no partially successful outcome.
type Backend interface {
	Call(ctx context.Context, req Request) (*Result, error)
}

// Prober is implemented by backends that can report per-provider health.
type Prober interface {
	// Providers lists the configured provider names in a stable order.
	Providers() []string
	// Probe performs a cheap reachability check against one provider.
	Probe(ctx context.Context, name string) error
}

// EffectiveTemperature returns the effective temperature for o.
func (o Options) EffectiveTemperature() float64 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// EffectiveMaxTokens returns the effective token limit for o.
func (o Options) EffectiveMaxTokens() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}
