package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// The media engine is an external collaborator: a pool of worker
// processes exposing router/transport/producer/consumer primitives.
// The codec set is fixed when the engine starts. Every call here may
// block on the worker, so callers never hold a room lock across one.

// MediaKind is what a producer carries. Screen shares travel as video.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

func (k MediaKind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindScreen:
		return true
	}
	return false
}

// CodecType maps a kind to the RTP codec family it must use.
func (k MediaKind) CodecType() webrtc.RTPCodecType {
	if k == KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// TransportParameters is what the server side of a transport offers.
type TransportParameters struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// RemoteTransportParameters is what the client answers with.
type RemoteTransportParameters struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// EngineTransportState is reported asynchronously by the engine.
type EngineTransportState int

const (
	EngineTransportConnected EngineTransportState = iota + 1
	EngineTransportFailed
	EngineTransportClosed
)

type TransportOptions struct {
	ID             string
	InitialBitrate int
	// OnState is called from engine goroutines.
	OnState func(EngineTransportState)
}

type ProducerOptions struct {
	ID    string
	Kind  MediaKind
	Codec webrtc.RTPCodecParameters
	SSRC  webrtc.SSRC
}

type ConsumerOptions struct {
	ID string
}

// ConsumerParameters tells the client how to receive a consumer.
type ConsumerParameters struct {
	Codec webrtc.RTPCodecParameters
	SSRC  webrtc.SSRC
}

type MediaEngine interface {
	// Workers are provisioned when the engine starts and live until Close.
	Workers() []MediaWorker
	Close() error
}

type MediaWorker interface {
	ID() int
	CreateRouter(ctx context.Context, id string) (MediaRouter, error)
}

type MediaRouter interface {
	ID() string
	CreateTransport(ctx context.Context, opts TransportOptions) (MediaTransport, error)
	Close()
}

type MediaTransport interface {
	ID() string
	Parameters() TransportParameters
	// Connect starts ICE and DTLS toward the client. Connected is
	// reported later through TransportOptions.OnState.
	Connect(ctx context.Context, remote RemoteTransportParameters) error
	Produce(ctx context.Context, opts ProducerOptions) (MediaProducer, error)
	Consume(ctx context.Context, producer MediaProducer, opts ConsumerOptions) (MediaConsumer, error)
	SetMaxBitrate(bps int) error
	Close()
}

type MediaProducer interface {
	ID() string
	Close()
}

type MediaConsumer interface {
	ID() string
	Parameters() ConsumerParameters
	Close()
}
