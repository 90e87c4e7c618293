package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Challenge is the HTTP status and WWW-Authenticate header sent to a caller
// that failed authentication.
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
// It reports false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// MissingCredentials is the challenge for a request without a bearer token.
func MissingCredentials(realm string) Challenge {
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q`, realm),
	}
}

// ChallengeFor maps an authentication error onto its challenge. Scope
// failures are 403; every other failure is an invalid token.
func ChallengeFor(err error, realm string) Challenge {
	if errors.Is(err, ErrInsufficientScope) {
		return Challenge{
			Status:          http.StatusForbidden,
			WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, realm),
		}
	}
	return Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description="The access token is invalid"`, realm),
	}
}
