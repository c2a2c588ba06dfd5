package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// transport is one ORTC ICE+DTLS leg toward a client. The server side
// is always ICE-controlled; the client dials.
type transport struct {
	id     string
	router *router
	api    *webrtc.API
	params core.TransportParameters

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	onState  func(core.EngineTransportState)
	logger   zerolog.Logger

	mu        sync.Mutex
	closed    bool
	started   bool
	bitrate   int
	producers map[string]*producer
	consumers map[string]*consumer
}

func newTransport(ctx context.Context, r *router, opts core.TransportOptions) (*transport, error) {
	api := r.w.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.w.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &transport{
		id:        opts.ID,
		router:    r,
		api:       api,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		onState:   opts.OnState,
		bitrate:   opts.InitialBitrate,
		producers: make(map[string]*producer),
		consumers: make(map[string]*consumer),
		logger:    log.With().Str("module", "rtc").Str("router", r.id).Str("transport", opts.ID).Logger(),
	}

	if err := t.gather(ctx); err != nil {
		t.release()
		return nil, err
	}
	return t, nil
}

// gather collects every local candidate before the parameters are
// handed out; candidates are not trickled.
func (t *transport) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("dtls parameters: %w", err)
	}
	t.params = core.TransportParameters{
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
	}
	t.logger.Debug().Int("candidates", len(candidates)).Msg("transport gathered")
	return nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Parameters() core.TransportParameters { return t.params }

func (t *transport) Connect(ctx context.Context, remote core.RemoteTransportParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errClosed
	}
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("transport %s already connecting", t.id)
	}
	t.started = true
	t.mu.Unlock()

	if err := t.ice.SetRemoteCandidates(remote.ICECandidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}
	t.ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed {
			t.report(core.EngineTransportFailed)
		}
	})

	// Both Start calls block until the handshake finishes.
	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(t.gatherer, remote.ICEParameters, &role); err != nil {
			t.logger.Warn().Err(err).Msg("ice start failed")
			t.report(core.EngineTransportFailed)
			return
		}
		if err := t.dtls.Start(remote.DTLSParameters); err != nil {
			t.logger.Warn().Err(err).Msg("dtls start failed")
			t.report(core.EngineTransportFailed)
			return
		}
		t.report(core.EngineTransportConnected)
	}()
	return nil
}

// report forwards a state change unless the transport was closed
// locally, in which case the owner already knows.
func (t *transport) report(s core.EngineTransportState) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.onState == nil {
		return
	}
	t.onState(s)
}

func (t *transport) SetMaxBitrate(bps int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errClosed
	}
	t.bitrate = bps
	ssrcs := t.producerSSRCsLocked()
	t.mu.Unlock()
	return t.sendREMB(bps, ssrcs)
}

func (t *transport) producerSSRCsLocked() []uint32 {
	out := make([]uint32, 0, len(t.producers))
	for _, p := range t.producers {
		out = append(out, uint32(p.ssrc))
	}
	return out
}

// sendREMB caps what the client encodes for the given streams.
func (t *transport) sendREMB(bps int, ssrcs []uint32) error {
	if bps <= 0 || len(ssrcs) == 0 {
		return nil
	}
	_, err := t.dtls.WriteRTCP([]rtcp.Packet{&rtcp.ReceiverEstimatedMaximumBitrate{
		Bitrate: float32(bps),
		SSRCs:   ssrcs,
	}})
	return err
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	t.release()
	t.router.forget(t.id)
	t.logger.Debug().Msg("transport closed")
}

func (t *transport) release() {
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
}
