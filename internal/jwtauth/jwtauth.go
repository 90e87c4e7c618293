// Package jwtauth validates RFC 9068 JWT access tokens against a JWKS that
// is either configured directly or found through OIDC discovery.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not carry every
// required scope.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// Audiences lists the accepted "aud" values; a token must carry at least
	// one of them.
	Audiences      []string
	RequiredScopes []string
	AllowedAlgs    []string
	Leeway         time.Duration
	// RequireATType enforces the RFC 9068 "typ" header (at+jwt).
	RequireATType bool
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() Config {
	return Config{
		AllowedAlgs:   []string{"RS256"},
		Leeway:        60 * time.Second,
		RequireATType: true,
	}
}

// Principal is the validated subject of a token with its raw claims.
type Principal struct {
	Subject string
	Scopes  []string
	Claims  map[string]any
}

// Validator checks bearer tokens. It is safe for concurrent use; JWKS keys
// are refreshed in the background.
type Validator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// NewStatic builds a Validator for a fixed issuer and JWKS URI.
func NewStatic(ctx context.Context, cfg Config, jwksURI string) (*Validator, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newValidator(cfg, kf.Keyfunc), nil
}

// NewFromDiscovery performs OIDC discovery on cfg.Issuer to locate the JWKS.
// The issuer advertised by the discovery document replaces cfg.Issuer.
func NewFromDiscovery(ctx context.Context, cfg Config) (*Validator, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	if meta.Issuer != "" {
		cfg.Issuer = meta.Issuer
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newValidator(cfg, kf.Keyfunc), nil
}

func (c *Config) check() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("at least one audience is required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	return nil
}

func newValidator(cfg Config, kf jwt.Keyfunc) *Validator {
	return &Validator{cfg: cfg, keyfunc: func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf(t)
	}}
}

// Issuer returns the issuer tokens must carry.
func (v *Validator) Issuer() string { return v.cfg.Issuer }

// Validate verifies tok and returns its principal. Invalid tokens yield
// ErrUnauthorized; valid tokens missing a required scope yield
// ErrInsufficientScope.
func (v *Validator) Validate(ctx context.Context, tok string) (*Principal, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithIssuedAt(),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	if v.cfg.RequireATType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], v.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	for _, want := range v.cfg.RequiredScopes {
		if !slices.Contains(scopes, want) {
			return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, want)
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &Principal{Subject: sub, Scopes: scopes, Claims: claims}, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
