package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/proto"
)

func (ctl *SignalWSController) handleChatSend(_ context.Context, cc *client, _ proto.Envelope, data []byte) error {
	var p proto.ChatSendRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	_, err = room.SendChat(cc.sid, p.Text, p.Kind)
	return err
}

func (ctl *SignalWSController) handleTypingStart(_ context.Context, cc *client, _ proto.Envelope, _ []byte) error {
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	return room.StartTyping(cc.sid)
}

func (ctl *SignalWSController) handleTypingStop(_ context.Context, cc *client, _ proto.Envelope, _ []byte) error {
	room, err := ctl.room(cc)
	if err != nil {
		return err
	}
	return room.StopTyping(cc.sid)
}
