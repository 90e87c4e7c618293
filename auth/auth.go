package auth

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the token is missing, malformed, expired or
	// signed by someone other than the configured issuer.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInsufficientScope means the token is valid but lacks a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// UserInfo is the principal behind a verified token.
type UserInfo interface {
	// UserID is the token subject. Sessions opened with the token are owned
	// by it, and only it may use or close them.
	UserID() string
	// Claims decodes the full claim set into ref.
	Claims(ref any) error
}

// Authenticator verifies a bearer token. Rejections wrap ErrUnauthorized or
// ErrInsufficientScope; any other error is an internal failure.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
