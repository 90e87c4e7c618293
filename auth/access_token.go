package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/climber-engine/mcp-server-go/internal/jwtauth"
)

// Config selects and tunes the JWT access token authenticator.
type Config struct {
	// Issuer is the authorization server issuer URL. Required.
	Issuer string
	// Audience is the expected "aud" claim, typically the public MCP URL.
	Audience string
	// JWKSURI skips OIDC discovery and reads keys from this URI directly.
	JWKSURI string
	// RequiredScopes must all be present in the token's scope claim.
	RequiredScopes []string
	// Leeway tolerates clock skew; zero keeps the 60s default.
	Leeway time.Duration
}

// New returns an Authenticator that verifies RFC 9068 JWT access tokens.
// With JWKSURI set keys are fetched from it; otherwise the issuer's OIDC
// discovery document locates them.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	jc := jwtauth.DefaultConfig()
	jc.Issuer = cfg.Issuer
	jc.Audiences = []string{cfg.Audience}
	jc.RequiredScopes = append([]string(nil), cfg.RequiredScopes...)
	if cfg.Leeway > 0 {
		jc.Leeway = cfg.Leeway
	}

	var (
		v   *jwtauth.Validator
		err error
	)
	if cfg.JWKSURI != "" {
		v, err = jwtauth.NewStatic(ctx, jc, cfg.JWKSURI)
	} else {
		v, err = jwtauth.NewFromDiscovery(ctx, jc)
	}
	if err != nil {
		return nil, err
	}
	return &adapter{v: v}, nil
}

// adapter maps the internal validator onto the public interface.
type adapter struct {
	v *jwtauth.Validator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	p, err := ad.v.Validate(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return principal{p: p}, nil
}

type principal struct{ p *jwtauth.Principal }

func (u principal) UserID() string { return u.p.Subject }

func (u principal) Claims(ref any) error {
	b, err := json.Marshal(u.p.Claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
