package proto

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/chat"
	"github.com/dkeye/Huddle/internal/collab"
	"github.com/dkeye/Huddle/internal/domain"
)

// Envelope is decoded first to pick a handler.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Ack is a bare response such as pong or left.
type Ack struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

func NewError(requestID, code, message string) Error {
	return Error{Type: TypeError, RequestID: requestID, Code: code, Message: message}
}

// SignalRequest is a directed negotiation message from a client.
type SignalRequest struct {
	Type    string          `json:"type"`
	To      domain.UserID   `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// SignalEvent is what the target receives. From is filled by the
// server from the authenticated identity.
type SignalEvent struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type RoomData struct {
	Type         string            `json:"type"`
	RoomID       domain.RoomID     `json:"roomId"`
	Participants []domain.Identity `json:"participants"`
}

type ParticipantState struct {
	domain.Identity
	domain.DeviceState
}

// RoomState is sent once to a joining participant.
type RoomState struct {
	Type          string             `json:"type"`
	RequestID     string             `json:"requestId,omitempty"`
	RoomID        domain.RoomID      `json:"roomId"`
	Self          domain.Identity    `json:"self"`
	Participants  []ParticipantState `json:"participants"`
	SharingUser   domain.UserID      `json:"sharingUser,omitempty"`
	Collaboration collab.Snapshot    `json:"collaboration"`
	Chat          []chat.Message     `json:"chat"`
	Typing        []domain.UserID    `json:"typing"`
}

type DeviceStateRequest struct {
	AudioEnabled *bool `json:"audioEnabled"`
	VideoEnabled *bool `json:"videoEnabled"`
}

type DeviceStateEvent struct {
	Type         string        `json:"type"`
	UserID       domain.UserID `json:"userId"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
}

type ScreenShareEvent struct {
	Type   string        `json:"type"`
	State  string        `json:"state"`
	UserID domain.UserID `json:"userId"`
}

// ScreenShareDenied names the current owner.
type ScreenShareDenied struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId,omitempty"`
	UserID    domain.UserID `json:"userId"`
}

type CollabModeRequest struct {
	Mode       string `json:"mode"`
	ActiveTool string `json:"activeTool"`
}

type CollabModeEvent struct {
	Type       string        `json:"type"`
	Mode       collab.Mode   `json:"mode"`
	ActiveTool string        `json:"activeTool"`
	UserID     domain.UserID `json:"userId"`
}

type WorkflowOpRequest struct {
	Operation collab.Operation `json:"operation"`
}

type WorkflowOpEvent struct {
	Type string `json:"type"`
	collab.StampedOperation
}

type WhiteboardRequest struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

type WhiteboardEvent struct {
	Type string `json:"type"`
	collab.WhiteboardUpdate
}

type ChatSendRequest struct {
	Text string    `json:"text"`
	Kind chat.Kind `json:"kind"`
}

type ChatMessageEvent struct {
	Type string `json:"type"`
	chat.Message
}

type TypingEvent struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	IsTyping bool          `json:"isTyping"`
}
