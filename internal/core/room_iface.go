package core

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/chat"
	"github.com/dkeye/Huddle/internal/collab"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomSnapshot is a read-only view for APIs (no transport fields).
type RoomSnapshot struct {
	RoomID       domain.RoomID     `json:"roomId"`
	Participants []domain.Identity `json:"participants"`
	SharingUser  domain.UserID     `json:"sharingUser,omitempty"`
	Mode         collab.Mode       `json:"mode"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// LeaveResult describes what Leave did. Left is false when sid was not
// the current session of any member, e.g. a replaced connection.
type LeaveResult struct {
	Left  bool
	Empty bool
	User  domain.Identity
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources
// beyond TrySend and closing a connection it replaced.
// Every operation that names a sid fails with domain.ErrNotFound when
// that sid is not a current member.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	Snapshot() RoomSnapshot
	IsMember(user domain.UserID) bool

	Join(ms MemberSession, requestID string) (RoomSnapshot, error)
	// Resync sends room-state again to a current member only.
	Resync(sid SessionID, requestID string) error
	Leave(sid SessionID) LeaveResult
	// CloseIfEmpty marks an empty room closed; later joins get
	// domain.ErrRoomClosed.
	CloseIfEmpty() bool

	Relay(from SessionID, req proto.SignalRequest) error

	UpdateDeviceState(sid SessionID, audio, video *bool) (domain.DeviceState, error)
	StartScreenShare(sid SessionID, requestID string) (bool, error)
	StopScreenShare(sid SessionID) (bool, error)

	SetCollabMode(sid SessionID, mode collab.Mode, activeTool string) error
	ApplyWorkflowOperation(sid SessionID, op collab.Operation) (collab.StampedOperation, error)
	UpdateWhiteboard(sid SessionID, snapshot json.RawMessage) (collab.WhiteboardUpdate, error)

	SendChat(sid SessionID, text string, kind chat.Kind) (chat.Message, error)
	StartTyping(sid SessionID) error
	StopTyping(sid SessionID) error

	// Broadcast sends v to every member except the session from.
	Broadcast(from SessionID, v any) PublishResult
	// SendTo delivers v to the current session of user.
	SendTo(user domain.UserID, v any) bool
}
