package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrMediaDisabled = fmt.Errorf("media engine not configured: %w", domain.ErrResource)

func producerEvent(typ, id string, user domain.UserID, kind string) proto.ProducerEvent {
	return proto.ProducerEvent{Type: typ, ProducerID: id, UserID: user, Kind: kind}
}

// mediaTarget resolves the room and user behind sid for a media call.
func (o *Orchestrator) mediaTarget(sid core.SessionID) (core.RoomService, domain.UserID, error) {
	if o.Media == nil {
		return nil, "", ErrMediaDisabled
	}
	room, sess, err := o.Room(sid)
	if err != nil {
		return nil, "", err
	}
	return room, sess.Identity().UserID, nil
}

func (o *Orchestrator) RTPCapabilities() (sfu.Capabilities, error) {
	if o.Media == nil {
		return sfu.Capabilities{}, ErrMediaDisabled
	}
	return o.Media.Capabilities(), nil
}

func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, dir sfu.Direction) (sfu.TransportInfo, error) {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return sfu.TransportInfo{}, err
	}
	return o.Media.CreateTransport(ctx, room.ID(), user, dir)
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, remote core.RemoteTransportParameters) error {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return err
	}
	return o.Media.ConnectTransport(ctx, room.ID(), user, transportID, remote)
}

// Produce starts a producer and announces it to everyone else.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, transportID string, kind core.MediaKind, codec webrtc.RTPCodecCapability, ssrc uint32) (sfu.ProducerInfo, error) {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return sfu.ProducerInfo{}, err
	}
	info, err := o.Media.Produce(ctx, room.ID(), user, transportID, kind, codec, ssrc)
	if err != nil {
		return sfu.ProducerInfo{}, err
	}
	room.Broadcast(sid, producerEvent(proto.TypeProducerNew, info.ID, info.UserID, string(info.Kind)))
	return info, nil
}

func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, transportID, producerID string) (sfu.ConsumerInfo, error) {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return sfu.ConsumerInfo{}, err
	}
	return o.Media.Consume(ctx, room.ID(), user, transportID, producerID)
}

func (o *Orchestrator) SetBitrate(sid core.SessionID, transportID string, bps int) (int, error) {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return 0, err
	}
	return o.Media.SetBitrate(room.ID(), user, transportID, bps)
}

func (o *Orchestrator) CloseProducer(sid core.SessionID, producerID string) error {
	room, user, err := o.mediaTarget(sid)
	if err != nil {
		return err
	}
	return o.Media.CloseProducer(room.ID(), user, producerID)
}

// onMediaEvent tells clients about media objects that went away.
// Producer closes go to the room; the rest only to the owner.
func (o *Orchestrator) onMediaEvent(id domain.RoomID, ev sfu.Event) {
	room, err := o.Rooms.Get(id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Str("module", "orch").Msg("media event lookup")
		}
		return
	}
	switch ev.Kind {
	case sfu.EventProducerClosed:
		room.Broadcast("", producerEvent(proto.TypeProducerClosed, ev.ProducerID, ev.User, string(ev.MediaKind)))
	case sfu.EventConsumerClosed:
		room.SendTo(ev.User, proto.ConsumerClosedEvent{Type: proto.TypeConsumerClosed, ConsumerID: ev.ConsumerID, ProducerID: ev.ProducerID})
	case sfu.EventTransportClosed:
		room.SendTo(ev.User, proto.TransportClosedEvent{Type: proto.TypeTransportClosed, TransportID: ev.TransportID})
	}
}
