// Package collab holds the per-room collaboration state: the room-wide
// mode, the operation-replicated workflow graph and the
// snapshot-replicated whiteboard. It is not safe for concurrent use;
// the owning room serializes access.
package collab

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

type Mode string

const (
	ModeNone       Mode = "none"
	ModeWorkflow   Mode = "workflow"
	ModeWhiteboard Mode = "whiteboard"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(raw); m {
	case ModeNone, ModeWorkflow, ModeWhiteboard:
		return m, nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("%w: unknown collaboration mode %q", domain.ErrBadRequest, raw)
	}
}

// WhiteboardData is the metadata kept for the whiteboard. The document
// itself is opaque.
type WhiteboardData struct {
	Version        int64         `json:"version"`
	LastModified   int64         `json:"lastModified"`
	LastModifiedBy domain.UserID `json:"lastModifiedBy,omitempty"`
}

// WhiteboardUpdate is what gets rebroadcast for an accepted snapshot.
type WhiteboardUpdate struct {
	Snapshot  json.RawMessage `json:"snapshot"`
	UserID    domain.UserID   `json:"userId"`
	Timestamp int64           `json:"timestamp"`
	Version   int64           `json:"version"`
}

// Snapshot is the full collaboration state sent to late joiners.
type Snapshot struct {
	Mode       Mode            `json:"mode"`
	ActiveTool string          `json:"activeTool,omitempty"`
	Workflow   WorkflowData    `json:"workflowData"`
	Whiteboard WhiteboardData  `json:"whiteboardData"`
	Document   json.RawMessage `json:"whiteboardSnapshot,omitempty"`
}

type State struct {
	mode       Mode
	activeTool string
	workflow   Workflow
	history    []StampedOperation
	whiteboard WhiteboardData
	document   json.RawMessage
}

func NewState() *State {
	return &State{mode: ModeNone}
}

// SetMode overwrites mode and tool unconditionally; last writer wins.
func (s *State) SetMode(mode Mode, activeTool string) {
	s.mode = mode
	s.activeTool = activeTool
}

func (s *State) Mode() (Mode, string) { return s.mode, s.activeTool }

// ApplyOperation stamps op, appends it to the history and applies it to
// the authoritative workflow.
func (s *State) ApplyOperation(op Operation, by domain.UserID, at int64) (StampedOperation, error) {
	if err := op.Validate(); err != nil {
		return StampedOperation{}, err
	}
	stamped := StampedOperation{Operation: op, UserID: by, Timestamp: at}
	s.history = append(s.history, stamped)
	s.workflow.Apply(stamped)
	return stamped, nil
}

// History returns the accepted operations in server order.
func (s *State) History() []StampedOperation {
	out := make([]StampedOperation, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) Workflow() WorkflowData { return s.workflow.Data() }

// AcceptSnapshot stores a whiteboard document and bumps the version.
// The content is never inspected beyond being non-empty JSON.
func (s *State) AcceptSnapshot(snapshot json.RawMessage, by domain.UserID, at int64) (WhiteboardUpdate, error) {
	trimmed := bytes.TrimSpace(snapshot)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || !json.Valid(trimmed) {
		return WhiteboardUpdate{}, fmt.Errorf("%w: whiteboard snapshot must be a JSON document", domain.ErrBadRequest)
	}
	s.whiteboard.Version++
	s.whiteboard.LastModified = at
	s.whiteboard.LastModifiedBy = by
	s.document = append(json.RawMessage(nil), trimmed...)
	return WhiteboardUpdate{
		Snapshot:  s.document,
		UserID:    by,
		Timestamp: at,
		Version:   s.whiteboard.Version,
	}, nil
}

func (s *State) Whiteboard() WhiteboardData { return s.whiteboard }

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Mode:       s.mode,
		ActiveTool: s.activeTool,
		Workflow:   s.workflow.Data(),
		Whiteboard: s.whiteboard,
		Document:   append(json.RawMessage(nil), s.document...),
	}
}
