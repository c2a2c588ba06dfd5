package core

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

type LifecycleKind string

const (
	RoomOpened        LifecycleKind = "room_opened"
	RoomClosed        LifecycleKind = "room_closed"
	ParticipantJoined LifecycleKind = "participant_joined"
	ParticipantLeft   LifecycleKind = "participant_left"
)

// LifecycleEvent feeds the meeting-record store. The room layer only
// emits them; what the store does with them is not its concern.
type LifecycleEvent struct {
	Kind   LifecycleKind `json:"kind"`
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId,omitempty"`
	At     time.Time     `json:"at"`
}

// LifecycleSink must not block the caller.
type LifecycleSink interface {
	Publish(ev LifecycleEvent)
}
