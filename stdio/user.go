package stdio

import (
	"os/user"
)

// DefaultUser is the owner reference used when no UserProvider is set.
const DefaultUser = "local"

// UserProvider provides the owner reference associated with the stdio peer.
// For stdio, we don't pass or validate bearer tokens; the process that
// spawned the server is trusted.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// StaticUser always reports the same owner reference.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) { return string(s), nil }

// OSUserProvider resolves the user ID using the operating system's current user.
// The returned ID is user.Username when available; falling back to user.Uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}
