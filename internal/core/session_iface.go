package core

import "github.com/dkeye/Huddle/internal/domain"

type SessionID string

// MemberSession binds an authenticated identity and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	SID() SessionID
	Identity() domain.Identity
	Signal() SignalConnection
}
