package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer, answer and ice-candidate. Nothing is ever
// reported back for a missing target or room.
func (ctl *SignalWSController) handleRelay(_ context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.SignalRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	room, err := ctl.room(cc)
	if err == nil {
		err = room.Relay(cc.sid, p)
	}
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Str("module", "signal").Str("sid", string(cc.sid)).Str("type", env.Type).Msg("relay dropped")
		return nil
	}
	return err
}

func (ctl *SignalWSController) respond(cc *client, typ, requestID string, data any) {
	ctl.sendJSON(cc, proto.MediaResponse{Type: typ, RequestID: requestID, Data: data})
}

func (ctl *SignalWSController) handleGetRTPCapabilities(_ context.Context, cc *client, env proto.Envelope, _ []byte) error {
	caps, err := ctl.Orch.RTPCapabilities()
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeRTPCapabilities, env.RequestID, caps)
	return nil
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.CreateTransportRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	info, err := ctl.Orch.CreateTransport(ctx, cc.sid, sfu.Direction(p.Direction))
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeTransportCreated, env.RequestID, info)
	return nil
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.ConnectTransportRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	err := ctl.Orch.ConnectTransport(ctx, cc.sid, p.TransportID, core.RemoteTransportParameters{
		ICEParameters:  p.ICEParameters,
		ICECandidates:  p.ICECandidates,
		DTLSParameters: p.DTLSParameters,
	})
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeTransportConnected, env.RequestID, map[string]string{"transportId": p.TransportID})
	return nil
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.ProduceRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	info, err := ctl.Orch.Produce(ctx, cc.sid, p.TransportID, core.MediaKind(p.Kind), p.RTPParameters.Codec, p.RTPParameters.SSRC)
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeProduced, env.RequestID, info)
	return nil
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.ConsumeRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	info, err := ctl.Orch.Consume(ctx, cc.sid, p.TransportID, p.ProducerID)
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeConsumed, env.RequestID, info)
	return nil
}

func (ctl *SignalWSController) handleSetBitrate(_ context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.SetBitrateRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be positive", domain.ErrBadRequest)
	}
	applied, err := ctl.Orch.SetBitrate(cc.sid, p.TransportID, p.Bitrate)
	if err != nil {
		return err
	}
	ctl.respond(cc, proto.TypeBitrateSet, env.RequestID, map[string]any{"transportId": p.TransportID, "bitrate": applied})
	return nil
}

func (ctl *SignalWSController) handleCloseProducer(_ context.Context, cc *client, env proto.Envelope, data []byte) error {
	var p proto.CloseProducerRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := ctl.Orch.CloseProducer(cc.sid, p.ProducerID); err != nil {
		return err
	}
	// The room-wide producer-closed already reached the caller; only a
	// tagged request gets its own acknowledgement.
	if env.RequestID != "" {
		ctl.respond(cc, proto.TypeProducerClosed, env.RequestID, map[string]string{"producerId": p.ProducerID})
	}
	return nil
}
