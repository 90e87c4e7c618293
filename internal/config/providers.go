package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/climber-engine/mcp-server-go/backend/openaicompat"
)

// Catalogue lists the model providers the backend may call.
type Catalogue struct {
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name         string            `yaml:"name"`
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	DefaultModel string            `yaml:"default_model"`
	Aliases      map[string]string `yaml:"aliases"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadProviders reads a catalogue file. Environment variables in the format
// ${VAR_NAME} are expanded before parsing. Providers whose api_key expands
// to nothing are dropped after validation; if the default was one of them
// the default is cleared.
func LoadProviders(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	var cat Catalogue
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cat); err != nil {
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}
	if err := parseDurations(&cat); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validating providers: %w", err)
	}
	cat.dropUnkeyed()
	return &cat, nil
}

// DefaultCatalogue is the built-in provider set. Each provider is included
// only when its API key variable is set.
func DefaultCatalogue() *Catalogue {
	cat := &Catalogue{Default: "openai", Providers: []ProviderConfig{
		{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKey: os.Getenv("OPENAI_API_KEY"), DefaultModel: "gpt-4"},
		{Name: "qwen", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", APIKey: os.Getenv("QWEN_API_KEY"), DefaultModel: "qwen-max", Aliases: map[string]string{"gpt-4": "qwen-max"}},
		{Name: "kimi", BaseURL: "https://api.moonshot.cn/v1", APIKey: os.Getenv("KIMI_API_KEY"), DefaultModel: "moonshot-v1-8k", Aliases: map[string]string{"gpt-4": "moonshot-v1-8k"}},
		{Name: "deepseek", BaseURL: "https://api.deepseek.com/v1", APIKey: os.Getenv("DEEPSEEK_API_KEY"), DefaultModel: "deepseek-chat", Aliases: map[string]string{"gpt-4": "deepseek-chat"}},
	}}
	cat.dropUnkeyed()
	return cat
}

func (c *Catalogue) dropUnkeyed() {
	kept := c.Providers[:0]
	for _, p := range c.Providers {
		if p.APIKey != "" {
			kept = append(kept, p)
		}
	}
	c.Providers = kept
	if !c.has(c.Default) {
		c.Default = ""
	}
}

func (c *Catalogue) has(name string) bool {
	for _, p := range c.Providers {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Validate checks that names are unique and every provider has an endpoint.
func (c *Catalogue) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q is defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %q: timeout must not be negative", p.Name)
		}
	}
	if c.Default != "" && !seen[c.Default] {
		return fmt.Errorf("default provider %q is not defined", c.Default)
	}
	return nil
}

// OpenAICompat converts the catalogue into client providers.
func (c *Catalogue) OpenAICompat() []openaicompat.Provider {
	out := make([]openaicompat.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, openaicompat.Provider{
			Name:         p.Name,
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
			Aliases:      p.Aliases,
			Timeout:      p.Timeout,
		})
	}
	return out
}

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with an
// empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(c *Catalogue) error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("provider %q: parsing timeout %q: %w", p.Name, p.TimeoutRaw, err)
		}
		p.Timeout = d
	}
	return nil
}
