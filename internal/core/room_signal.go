package core

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

// Relay forwards a directed negotiation message. A target outside the
// room is dropped silently; the sender is never told.
func (r *roomImpl) Relay(from SessionID, req proto.SignalRequest) error {
	switch req.Type {
	case proto.TypeOffer, proto.TypeAnswer, proto.TypeICECandidate:
	default:
		return fmt.Errorf("%w: %q is not a signaling message", domain.ErrBadRequest, req.Type)
	}
	if req.To == "" {
		return fmt.Errorf("%w: missing target", domain.ErrBadRequest)
	}

	r.mu.Lock()
	defer r.unlockAndReport()
	sender, err := r.memberLocked(from)
	if err != nil {
		return err
	}
	target, ok := r.byUser[req.To]
	if !ok {
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("to", string(req.To)).Str("type", req.Type).Msg("relay target not in room, dropped")
		return nil
	}
	r.sendLocked(target.session, proto.SignalEvent{
		Type:    req.Type,
		From:    sender.participant.Identity.UserID,
		Payload: req.Payload,
	})
	return nil
}
