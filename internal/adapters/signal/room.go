package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

type joinRequest struct {
	RoomID string `json:"roomId"`
}

// handleJoin joins the handshake room unless the request names another.
// The room itself answers with room-state.
func (ctl *SignalWSController) handleJoin(_ context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p joinRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	target := cc.room
	if p.RoomID != "" {
		id, err := domain.ParseRoomID(p.RoomID)
		if err != nil {
			return err
		}
		target = id
	}
	if target == "" {
		return domain.ErrRoomIDEmpty
	}

	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Str("room", string(target)).Msg("join")
	if _, err := ctl.Orch.Join(cc.sid, target, env.RequestID); err != nil {
		return err
	}
	cc.room = target
	return nil
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(_ context.Context, cc *client, env proto.Envelope, _ []byte) error {
	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Msg("leave")
	ctl.Orch.Leave(cc.sid)
	ctl.sendJSON(cc, proto.Ack{Type: proto.TypeLeft, RequestID: env.RequestID})
	return nil
}

// room resolves the caller's current room for room-scoped requests.
func (ctl *SignalWSController) room(cc *client) (core.RoomService, error) {
	room, _, err := ctl.Orch.Room(cc.sid)
	return room, err
}
