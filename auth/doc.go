// Package auth provides optional bearer token authentication for the HTTP
// transport. The authenticated subject becomes the owner reference of the
// sessions a caller opens, so a client cannot act for another user by
// naming them in initialize.
//
// New builds an Authenticator that validates RFC 9068 JWT access tokens,
// reading signing keys from a configured JWKS URI or locating them through
// the issuer's OpenID Connect discovery document:
//
//	authn, err := auth.New(ctx, auth.Config{
//	    Issuer:   "https://issuer.example",
//	    Audience: "https://climber.example/mcp",
//	})
//	if err != nil { log.Fatal(err) }
//
// ErrUnauthorized signals an invalid token. ErrInsufficientScope signals a
// valid token without the required scopes. ChallengeFor turns either into
// the status and WWW-Authenticate header a transport should send.
package auth
