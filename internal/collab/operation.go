package collab

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

type OpType string

const (
	OpAddNode    OpType = "add_node"
	OpUpdateNode OpType = "update_node"
	OpDeleteNode OpType = "delete_node"
	OpAddEdge    OpType = "add_edge"
	OpDeleteEdge OpType = "delete_edge"
)

// Operation is one client edit. update_node carries either a partial
// node (its fields are merged) or an id plus changes.
type Operation struct {
	Type    OpType                     `json:"type"`
	Node    *Node                      `json:"node,omitempty"`
	Edge    *Edge                      `json:"edge,omitempty"`
	ID      string                     `json:"id,omitempty"`
	Changes map[string]json.RawMessage `json:"changes,omitempty"`
}

// StampedOperation is an Operation as accepted by the server, in the
// order the server received it.
type StampedOperation struct {
	Operation Operation     `json:"operation"`
	UserID    domain.UserID `json:"userId"`
	Timestamp int64         `json:"timestamp"`
}

// Validate checks the envelope only. Graph well-formedness (dangling
// edges, duplicate ids) is not checked.
func (op Operation) Validate() error {
	switch op.Type {
	case OpAddNode:
		if op.Node == nil || op.Node.ID == "" {
			return fmt.Errorf("%w: add_node needs node.id", domain.ErrBadRequest)
		}
	case OpAddEdge:
		if op.Edge == nil || op.Edge.ID == "" {
			return fmt.Errorf("%w: add_edge needs edge.id", domain.ErrBadRequest)
		}
	case OpUpdateNode, OpDeleteNode, OpDeleteEdge:
		if op.targetID() == "" {
			return fmt.Errorf("%w: %s needs id", domain.ErrBadRequest, op.Type)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", domain.ErrBadRequest, op.Type)
	}
	return nil
}

func (op Operation) targetID() string {
	if op.ID != "" {
		return op.ID
	}
	switch {
	case op.Node != nil:
		return op.Node.ID
	case op.Edge != nil:
		return op.Edge.ID
	}
	return ""
}

func (op Operation) changes() map[string]json.RawMessage {
	if op.Changes != nil {
		return op.Changes
	}
	if op.Node != nil {
		return op.Node.Fields
	}
	return nil
}
