package rtc

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type scriptedSource struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
}

func (s *scriptedSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := s.pkts[0]
	s.pkts = s.pkts[1:]
	return p, nil, nil
}

func newTrack(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, id, "producer")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	return tr
}

func TestRelayDropsDeletedOutTracks(t *testing.T) {
	src := &scriptedSource{pkts: []*rtp.Packet{{Header: rtp.Header{SequenceNumber: 1}}}}
	r := NewRelay(src, nil)

	keep := NewOutTrack(newTrack(t, "keep"))
	gone := NewOutTrack(newTrack(t, "gone"))
	muted := NewOutTrack(newTrack(t, "muted"))
	gone.MarkDelete()
	muted.MarkMuted()
	r.AddOutTrack("keep", keep)
	r.AddOutTrack("gone", gone)
	r.AddOutTrack("muted", muted)

	logger := zerolog.Nop()
	r.forward(&rtp.Packet{}, &logger)

	if got := r.Len(); got != 2 {
		t.Fatalf("out tracks after forward = %d, want 2", got)
	}
	if keep.GetState() != TrackStateOk || muted.GetState() != TrackStateMuted {
		t.Fatalf("live tracks changed state: %v %v", keep.GetState(), muted.GetState())
	}
}

func TestRelayLoopEndsWithSource(t *testing.T) {
	src := &scriptedSource{pkts: []*rtp.Packet{{}, {}}}
	r := NewRelay(src, nil)
	ot := NewOutTrack(newTrack(t, "c1"))
	r.AddOutTrack("c1", ot)

	logger := zerolog.Nop()
	r.loop(context.Background(), &logger)

	if ot.GetState() != TrackStateDelete {
		t.Fatalf("state after source EOF = %v, want delete", ot.GetState())
	}
}

func TestRelayStopCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRelay(&scriptedSource{}, cancel)
	ot := NewOutTrack(newTrack(t, "c1"))
	r.AddOutTrack("c1", ot)

	r.Stop()

	if ctx.Err() == nil {
		t.Fatal("relay context not cancelled")
	}
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("state = %v, want delete", ot.GetState())
	}
}

func TestOutTrackStates(t *testing.T) {
	ot := NewOutTrack(nil)
	if ot.GetState() != TrackStateOk {
		t.Fatalf("zero state = %v", ot.GetState())
	}
	ot.MarkMuted()
	if ot.GetState() != TrackStateMuted {
		t.Fatalf("muted state = %v", ot.GetState())
	}
	ot.MarkOk()
	ot.MarkDelete()
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("delete state = %v", ot.GetState())
	}
}
