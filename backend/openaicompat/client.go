// Package openaicompat is a backend.Backend for providers that speak the
// OpenAI chat completions wire format (OpenAI, Qwen compatible mode,
// Moonshot/Kimi, DeepSeek).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/mcp"
)

// Provider describes one configured endpoint.
type Provider struct {
	Name         string
	BaseURL      string
	APIKey       string
	DefaultModel string
	// Aliases rewrites requested model names before the call, e.g.
	// "gpt-4" -> "deepseek-chat" for a provider without that model.
	Aliases map[string]string
	// Timeout bounds one call. Zero leaves only the request context.
	Timeout time.Duration
}

// Client dispatches requests to configured providers.
type Client struct {
	providers       map[string]Provider
	order           []string
	defaultProvider string
	http            *http.Client
	log             *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDefaultProvider selects the provider used when a request names none.
// Without it the first configured provider is the default.
func WithDefaultProvider(name string) Option {
	return func(c *Client) { c.defaultProvider = name }
}

// New builds a Client. Provider names must be unique and non-empty.
func New(providers []Provider, opts ...Option) (*Client, error) {
	c := &Client{
		providers: make(map[string]Provider, len(providers)),
		http:      &http.Client{},
		log:       slog.Default(),
	}
	for _, p := range providers {
		if p.Name == "" {
			return nil, errors.New("openaicompat: provider name is required")
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("openaicompat: provider %q: base url is required", p.Name)
		}
		if _, dup := c.providers[p.Name]; dup {
			return nil, fmt.Errorf("openaicompat: duplicate provider %q", p.Name)
		}
		p.BaseURL = strings.TrimRight(p.BaseURL, "/")
		c.providers[p.Name] = p
		c.order = append(c.order, p.Name)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.order) > 0 {
		c.defaultProvider = c.order[0]
	}
	if c.defaultProvider != "" {
		if _, ok := c.providers[c.defaultProvider]; !ok {
			return nil, fmt.Errorf("openaicompat: default provider %q: %w", c.defaultProvider, backend.ErrUnknownProvider)
		}
	}
	c.log = c.log.With(slog.String("component", "openaicompat"))
	return c, nil
}

// Providers implements backend.Prober.
func (c *Client) Providers() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ResolveModel applies the provider's default and alias table to model.
func (p Provider) ResolveModel(model string) string {
	if model == "" {
		model = p.DefaultModel
	}
	if alias, ok := p.Aliases[model]; ok {
		return alias
	}
	return model
}

func (c *Client) provider(name string) (Provider, error) {
	if name == "" {
		name = c.defaultProvider
	}
	p, ok := c.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", backend.ErrUnknownProvider, name)
	}
	return p, nil
}

// Call implements backend.Backend.
func (c *Client) Call(ctx context.Context, req backend.Request) (*backend.Result, error) {
	p, err := c.provider(req.Provider)
	if err != nil {
		return nil, err
	}
	model := p.ResolveModel(req.Model)

	body := chatRequest{
		Model:       model,
		Temperature: req.Options.EffectiveTemperature(),
		MaxTokens:   req.Options.EffectiveMaxTokens(),
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	log := c.log.With(slog.String("provider", p.Name), slog.String("model", model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.WarnContext(ctx, "openaicompat.call.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("%w: %s: %v", backend.ErrBackendUnavailable, p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WarnContext(ctx, "openaicompat.call.fail", slog.Int("status", resp.StatusCode), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, fmt.Errorf("%w: %s returned %d: %s", backend.ErrBackendUnavailable, p.Name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", backend.ErrBackendUnavailable, p.Name, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s: response has no choices", backend.ErrBackendUnavailable, p.Name)
	}

	res := &backend.Result{
		Content:    out.Choices[0].Message.Content,
		Model:      model,
		Provider:   p.Name,
		StopReason: out.Choices[0].FinishReason,
	}
	if out.Usage != nil {
		res.Usage = mcp.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	log.InfoContext(ctx, "openaicompat.call.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("total_tokens", res.Usage.TotalTokens))
	return res, nil
}

// Probe implements backend.Prober by listing the provider's models.
func (c *Client) Probe(ctx context.Context, name string) error {
	p, err := c.provider(name)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", backend.ErrBackendUnavailable, p.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s probe returned %d", backend.ErrBackendUnavailable, p.Name, resp.StatusCode)
	}
	return nil
}

var (
	_ backend.Backend = (*Client)(nil)
	_ backend.Prober  = (*Client)(nil)
)
