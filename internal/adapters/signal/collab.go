package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/collab"
	"github.com/dkeye/Huddle/internal/proto"
)

func (ctl *SignalWSController) handleCollabMode(_ context.Context, cc *client, _ proto.Envelope, data []byte) error {
	var p proto.CollabModeRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	mode, err := collab.ParseMode(p.Mode)
	if err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	return room.SetCollabMode(cc.sid, mode, p.ActiveTool)
}

func (ctl *SignalWSController) handleWorkflowOp(_ context.Context, cc *client, _ proto.Envelope, data []byte) error {
	var p proto.WorkflowOpRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.ApplyWorkflowOperation(cc.sid, p.Operation)
	return err
}

func (ctl *SignalWSController) handleWhiteboard(_ context.Context, cc *client, _ proto.Envelope, data []byte) error {
	var p proto.WhiteboardRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.UpdateWhiteboard(cc.sid, p.Snapshot)
	return err
}
