// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
)

const (
	MaxUserIDLen = 128
	MaxEmailLen  = 254
)

type UserID string

// Identity is what the auth verifier vouches for. It is the only
// identity a connection ever acts as.
type Identity struct {
	UserID UserID `json:"userId"`
	Email  string `json:"email"`
}

// NewIdentity validates the verified claims before they enter room state.
func NewIdentity(userID, email string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, ErrUserIDEmpty
	}
	if len(userID) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if len(email) > MaxEmailLen {
		return Identity{}, ErrEmailTooLong
	}
	return Identity{UserID: UserID(userID), Email: email}, nil
}
