package sfu

import (
	"strings"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

// Codec is one entry of the advertised RTP capability set.
type Codec struct {
	Kind        string `json:"kind"`
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
	PayloadType uint8  `json:"preferredPayloadType"`
}

// Capabilities is advertised identically to every room.
type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

// DefaultCapabilities is one opus profile plus one VP8 and one H264
// profile.
func DefaultCapabilities() Capabilities {
	return Capabilities{Codecs: []Codec{
		{
			Kind:        "audio",
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			PayloadType: 100,
		},
		{
			Kind:        "video",
			MimeType:    webrtc.MimeTypeVP8,
			ClockRate:   90000,
			SDPFmtpLine: "x-google-start-bitrate=1000",
			PayloadType: 101,
		},
		{
			Kind:        "video",
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "packetization-mode=1;profile-level-id=4d0032;level-asymmetry-allowed=1;x-google-start-bitrate=1000",
			PayloadType: 102,
		},
	}}
}

// Match returns the advertised codec for a producer of kind sending c.
// Mime type compares case-insensitively; clock rate must be equal and,
// for audio, so must the channel count when the client states one.
func (caps Capabilities) Match(kind core.MediaKind, c webrtc.RTPCodecCapability) (Codec, bool) {
	want := "video"
	if kind.CodecType() == webrtc.RTPCodecTypeAudio {
		want = "audio"
	}
	for _, codec := range caps.Codecs {
		if codec.Kind != want || !strings.EqualFold(codec.MimeType, c.MimeType) || codec.ClockRate != c.ClockRate {
			continue
		}
		if want == "audio" && c.Channels != 0 && c.Channels != codec.Channels {
			continue
		}
		return codec, true
	}
	return Codec{}, false
}

// Parameters converts c to the form the engine registers.
func (c Codec) Parameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    c.MimeType,
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			SDPFmtpLine: c.SDPFmtpLine,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

func (c Codec) CodecType() webrtc.RTPCodecType {
	if c.Kind == "audio" {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}
