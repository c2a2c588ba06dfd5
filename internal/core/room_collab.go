package core

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/collab"
	"github.com/dkeye/Huddle/internal/proto"
)

func (r *roomImpl) SetCollabMode(sid SessionID, mode collab.Mode, activeTool string) error {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return err
	}
	r.collab.SetMode(mode, activeTool)
	r.publishLocked("", proto.CollabModeEvent{
		Type:       proto.TypeCollabMode,
		Mode:       mode,
		ActiveTool: activeTool,
		UserID:     m.participant.Identity.UserID,
	})
	return nil
}

// ApplyWorkflowOperation stamps op, applies it and forwards it to the
// other members. Receipt order here is the order every replica applies.
func (r *roomImpl) ApplyWorkflowOperation(sid SessionID, op collab.Operation) (collab.StampedOperation, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return collab.StampedOperation{}, err
	}
	stamped, err := r.collab.ApplyOperation(op, m.participant.Identity.UserID, r.now())
	if err != nil {
		return collab.StampedOperation{}, err
	}
	r.publishLocked(sid, proto.WorkflowOpEvent{Type: proto.TypeWorkflowOp, StampedOperation: stamped})
	return stamped, nil
}

func (r *roomImpl) UpdateWhiteboard(sid SessionID, snapshot json.RawMessage) (collab.WhiteboardUpdate, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return collab.WhiteboardUpdate{}, err
	}
	upd, err := r.collab.AcceptSnapshot(snapshot, m.participant.Identity.UserID, r.now())
	if err != nil {
		return collab.WhiteboardUpdate{}, err
	}
	r.publishLocked(sid, proto.WhiteboardEvent{Type: proto.TypeWhiteboardUpdate, WhiteboardUpdate: upd})
	return upd, nil
}
