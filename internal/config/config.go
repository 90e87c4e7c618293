package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/climber-engine/mcp-server-go/sessions/redisstore"
)

// Transport and store selectors.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
	StoreMemory    = "memory"
	StoreRedis     = "redis"
)

// Config is the process configuration read from the environment.
type Config struct {
	Transport string `env:"MCP_TRANSPORT,default=http"`
	HTTPAddr  string `env:"MCP_HTTP_ADDR,default=:8001"`

	SessionStore  string        `env:"SESSION_STORE,default=memory"`
	TouchDebounce time.Duration `env:"SESSION_TOUCH_DEBOUNCE,default=0s"`
	Redis         redisstore.Config

	// DirectoryDSN is a sqlite path. Empty selects the static directory
	// seeded from StaticOwners.
	DirectoryDSN string `env:"DIRECTORY_DSN"`
	// StaticOwners is a comma separated list of usernames.
	StaticOwners string `env:"DIRECTORY_STATIC_OWNERS,default=local"`

	ProvidersFile   string `env:"PROVIDERS_FILE"`
	DefaultProvider string `env:"DEFAULT_PROVIDER"`

	HealthProbeTimeout time.Duration `env:"HEALTH_PROBE_TIMEOUT,default=3s"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	Auth AuthConfig
}

// AuthConfig enables bearer authentication on the HTTP transport when
// Issuer is set.
type AuthConfig struct {
	Issuer   string `env:"AUTH_ISSUER"`
	Audience string `env:"AUTH_AUDIENCE"`
	JWKSURI  string `env:"AUTH_JWKS_URI"`
	// Scopes is a space separated list of scopes every token must carry.
	Scopes string `env:"AUTH_REQUIRED_SCOPES"`
	Realm  string `env:"AUTH_REALM,default=climber"`
}

// Enabled reports whether bearer authentication is configured.
func (a AuthConfig) Enabled() bool { return a.Issuer != "" }

// RequiredScopes splits Scopes.
func (a AuthConfig) RequiredScopes() []string { return strings.Fields(a.Scopes) }

// Load decodes Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks enumerated values and cross-field requirements. Returns
// an error describing the first failure encountered.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("MCP_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Transport)
	}
	if c.Transport == TransportHTTP && c.HTTPAddr == "" {
		return fmt.Errorf("MCP_HTTP_ADDR is required for the http transport")
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.SessionStore)
	}
	if c.TouchDebounce < 0 {
		return fmt.Errorf("SESSION_TOUCH_DEBOUNCE must not be negative")
	}
	if c.HealthProbeTimeout <= 0 {
		return fmt.Errorf("HEALTH_PROBE_TIMEOUT must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.Auth.Enabled() && c.Auth.Audience == "" {
		return fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER is set")
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Owners splits StaticOwners, dropping blanks.
func (c *Config) Owners() []string {
	var out []string
	for _, o := range strings.Split(c.StaticOwners, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
