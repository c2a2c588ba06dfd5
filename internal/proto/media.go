package proto

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

type CreateTransportRequest struct {
	Direction string `json:"direction"`
}

type ConnectTransportRequest struct {
	TransportID    string                `json:"transportId"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ProduceRTPParameters is the single encoding a client announces.
type ProduceRTPParameters struct {
	Codec webrtc.RTPCodecCapability `json:"codec"`
	SSRC  uint32                    `json:"ssrc"`
}

type ProduceRequest struct {
	TransportID   string               `json:"transportId"`
	Kind          string               `json:"kind"`
	RTPParameters ProduceRTPParameters `json:"rtpParameters"`
}

type ConsumeRequest struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
}

type SetBitrateRequest struct {
	TransportID string `json:"transportId"`
	Bitrate     int    `json:"bitrate"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId"`
}

// MediaResponse answers a media request. Data holds the operation's
// result object and is omitted when there is none.
type MediaResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type ProducerEvent struct {
	Type       string        `json:"type"`
	ProducerID string        `json:"producerId"`
	UserID     domain.UserID `json:"userId"`
	Kind       string        `json:"kind"`
}

type ConsumerClosedEvent struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

type TransportClosedEvent struct {
	Type        string `json:"type"`
	TransportID string `json:"transportId"`
}
