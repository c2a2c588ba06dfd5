package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/proto"
)

func (ctl *SignalWSController) handleDeviceState(_ context.Context, cc *client, _ proto.Envelope, data []byte) error {
	var p proto.DeviceStateRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.UpdateDeviceState(cc.sid, p.AudioEnabled, p.VideoEnabled)
	return err
}

// A denied start is answered by the room with screen-share-denied, so
// only hard failures surface here.
func (ctl *SignalWSController) handleScreenShareStart(_ context.Context, cc *client, env proto.Envelope, _ []byte) error {
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.StartScreenShare(cc.sid, env.RequestID)
	return err
}

func (ctl *SignalWSController) handleScreenShareStop(_ context.Context, cc *client, _ proto.Envelope, _ []byte) error {
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.StopScreenShare(cc.sid)
	return err
}
