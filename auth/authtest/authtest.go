// Package authtest provides an in-memory auth.Authenticator for tests and
// local development.
package authtest

import (
	"context"
	"fmt"

	"github.com/climber-engine/mcp-server-go/auth"
)

// StaticTokens accepts exactly the tokens in its map, each naming the
// subject it authenticates.
type StaticTokens map[string]string

// CheckAuthentication implements auth.Authenticator.
func (s StaticTokens) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	sub, ok := s[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return user(sub), nil
}

type user string

func (u user) UserID() string       { return string(u) }
func (u user) Claims(ref any) error { return nil }

var _ auth.Authenticator = StaticTokens(nil)
