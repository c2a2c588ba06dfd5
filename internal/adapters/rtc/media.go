package rtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

var errForeignProducer = errors.New("rtc: producer belongs to another engine")

type producer struct {
	id       string
	kind     core.MediaKind
	ssrc     webrtc.SSRC
	codec    webrtc.RTPCodecParameters
	t        *transport
	receiver *webrtc.RTPReceiver
	relay    *Relay
}

func (t *transport) Produce(ctx context.Context, opts core.ProducerOptions) (core.MediaProducer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receiver, err := t.api.NewRTPReceiver(opts.Kind.CodecType(), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: opts.SSRC, PayloadType: opts.Codec.PayloadType},
	}}})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	p := &producer{
		id:       opts.ID,
		kind:     opts.Kind,
		ssrc:     opts.SSRC,
		codec:    opts.Codec,
		t:        t,
		receiver: receiver,
		relay:    NewRelay(receiver.Track(), cancel),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.Close()
		return nil, errClosed
	}
	t.producers[p.id] = p
	bitrate := t.bitrate
	t.mu.Unlock()

	logger := t.logger.With().Str("producer", p.id).Str("kind", string(p.kind)).Logger()
	go p.relay.loop(relayCtx, &logger)

	if err := t.sendREMB(bitrate, []uint32{uint32(p.ssrc)}); err != nil {
		logger.Debug().Err(err).Msg("initial bitrate hint not sent")
	}
	logger.Info().Uint32("ssrc", uint32(p.ssrc)).Str("codec", p.codec.MimeType).Msg("producer started")
	return p, nil
}

func (p *producer) ID() string { return p.id }

// requestKeyframe asks the sending client for a fresh keyframe so a new
// or recovering consumer can start decoding.
func (p *producer) requestKeyframe() {
	if p.kind == core.KindAudio {
		return
	}
	_, err := p.t.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(p.ssrc)}})
	if err != nil {
		p.t.logger.Debug().Err(err).Str("producer", p.id).Msg("PLI not sent")
	}
}

func (p *producer) Close() {
	p.relay.Stop()
	if err := p.receiver.Stop(); err != nil {
		p.t.logger.Debug().Err(err).Str("producer", p.id).Msg("receiver stop")
	}
	p.t.mu.Lock()
	delete(p.t.producers, p.id)
	p.t.mu.Unlock()
}

type consumer struct {
	id       string
	t        *transport
	params   core.ConsumerParameters
	sender   *webrtc.RTPSender
	outTrack *OutTrack
}

func (t *transport) Consume(ctx context.Context, mp core.MediaProducer, opts core.ConsumerOptions) (core.MediaConsumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := mp.(*producer)
	if !ok {
		return nil, errForeignProducer
	}

	track, err := webrtc.NewTrackLocalStaticRTP(p.codec.RTPCodecCapability, opts.ID, p.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}
	var ssrc webrtc.SSRC
	if len(params.Encodings) > 0 {
		ssrc = params.Encodings[0].SSRC
	}

	c := &consumer{
		id:       opts.ID,
		t:        t,
		params:   core.ConsumerParameters{Codec: p.codec, SSRC: ssrc},
		sender:   sender,
		outTrack: NewOutTrack(track),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, errClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	p.relay.AddOutTrack(c.id, c.outTrack)
	go c.readRTCP(p)
	p.requestKeyframe()

	t.logger.Info().Str("consumer", c.id).Str("producer", p.id).Uint32("ssrc", uint32(ssrc)).Msg("consumer started")
	return c, nil
}

// readRTCP drains receiver reports for the consumer and passes keyframe
// requests upstream. It ends when the sender stops.
func (c *consumer) readRTCP(p *producer) {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				p.requestKeyframe()
			}
		}
	}
}

func (c *consumer) ID() string { return c.id }

func (c *consumer) Parameters() core.ConsumerParameters { return c.params }

func (c *consumer) Close() {
	c.outTrack.MarkDelete()
	if err := c.sender.Stop(); err != nil {
		c.t.logger.Debug().Err(err).Str("consumer", c.id).Msg("sender stop")
	}
	c.t.mu.Lock()
	delete(c.t.consumers, c.id)
	c.t.mu.Unlock()
}
