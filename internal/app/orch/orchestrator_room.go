package orch

import (
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

// Join moves sid into room id, leaving any room it was in before. An
// identity is in one room at a time: its other connections in other
// rooms are evicted. The joiner also learns every producer already in
// the room.
func (o *Orchestrator) Join(sid core.SessionID, id domain.RoomID, requestID string) (core.RoomService, error) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sid, domain.ErrNotFound)
	}
	user := sess.Identity().UserID
	if current, _, ok := o.Registry.RoomOf(sid); ok {
		if current == id {
			// Joining the same room again only re-syncs the caller.
			if room, err := o.Rooms.Get(id); err == nil && room.Resync(sid, requestID) == nil {
				o.announceProducers(room, id, user)
				return room, nil
			}
		}
		o.Leave(sid)
	}
	o.evictElsewhere(sid, user, id)

	rejoin := false
	if existing, err := o.Rooms.Get(id); err == nil {
		rejoin = existing.IsMember(user)
	}

	room, _, err := o.Rooms.Join(id, sess, requestID)
	if err != nil {
		return nil, err
	}
	o.Registry.SetRoom(sid, id)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Bool("rejoin", rejoin).Msg("added to room")

	if o.Media != nil && rejoin {
		// Media bound to the replaced connection is unusable.
		o.Media.RemoveParticipant(id, user)
	}
	o.announceProducers(room, id, user)
	if !rejoin {
		o.publish(core.ParticipantJoined, id, user)
	}
	return room, nil
}

// evictElsewhere drops the other connections of user that sit in a
// room other than target. Same-room duplicates are replaced by the room.
func (o *Orchestrator) evictElsewhere(sid core.SessionID, user domain.UserID, target domain.RoomID) {
	for other, room := range o.Registry.RoomsOfUser(user, sid) {
		if room == target {
			continue
		}
		log.Info().Str("module", "orch").Str("sid", string(other)).Str("room", string(room)).Str("user", string(user)).Msg("evicting connection joined elsewhere")
		stale, ok := o.Registry.Session(other)
		o.Kick(other)
		if ok {
			stale.Signal().Close()
		}
	}
}

// announceProducers tells user about every producer of the others.
func (o *Orchestrator) announceProducers(room core.RoomService, id domain.RoomID, user domain.UserID) {
	if o.Media == nil {
		return
	}
	for _, p := range o.Media.Producers(id) {
		if p.UserID == user {
			continue
		}
		room.SendTo(user, producerEvent(proto.TypeProducerNew, p.ID, p.UserID, string(p.Kind)))
	}
}

// Leave removes sid from its room. A stale session that was replaced by
// a rejoin leaves nothing behind, so this is a no-op for it.
func (o *Orchestrator) Leave(sid core.SessionID) {
	id, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Registry.ClearRoom(sid)
	room, err := o.Rooms.Get(id)
	if err != nil {
		return
	}
	res := room.Leave(sid)
	if !res.Left {
		return
	}
	if o.Media != nil {
		o.Media.RemoveParticipant(id, res.User.UserID)
	}
	o.publish(core.ParticipantLeft, id, res.User.UserID)
	if res.Empty {
		o.Rooms.Release(id)
	}
}

// Disconnect is the last thing run for a connection.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Leave(sid)
	if p, ok := o.Policy.(interface{ Forget(core.SessionID) }); ok {
		p.Forget(sid)
	}
	o.Registry.Unbind(sid)
}

// Kick removes sid from its room now and cancels its connection.
func (o *Orchestrator) Kick(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Cancel(sid)
}

// Room resolves the room sid is currently in.
func (o *Orchestrator) Room(sid core.SessionID) (core.RoomService, core.MemberSession, error) {
	id, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, nil, fmt.Errorf("not in a room: %w", domain.ErrNotFound)
	}
	room, err := o.Rooms.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return room, sess, nil
}
