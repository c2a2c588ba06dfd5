package sfu_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/core"
)

// closeLog records engine releases in order.
type closeLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *closeLog) add(kind, id string) {
	l.mu.Lock()
	l.entries = append(l.entries, kind+":"+id)
	l.mu.Unlock()
}

func (l *closeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeEngine struct {
	workers []*fakeWorker
	log     *closeLog
}

func newFakeEngine(n int) *fakeEngine {
	e := &fakeEngine{log: &closeLog{}}
	for i := range n {
		e.workers = append(e.workers, &fakeWorker{id: i, engine: e})
	}
	return e
}

func (e *fakeEngine) Workers() []core.MediaWorker {
	out := make([]core.MediaWorker, len(e.workers))
	for i, w := range e.workers {
		out[i] = w
	}
	return out
}

func (e *fakeEngine) Close() error { return nil }

type fakeWorker struct {
	id     int
	engine *fakeEngine

	mu      sync.Mutex
	routers int
	failing int
	gate    chan struct{}
	last    *fakeRouter
}

func (w *fakeWorker) ID() int { return w.id }

func (w *fakeWorker) CreateRouter(ctx context.Context, id string) (core.MediaRouter, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failing > 0 {
		w.failing--
		return nil, fmt.Errorf("worker %d busy", w.id)
	}
	w.routers++
	r := &fakeRouter{id: id, log: w.engine.log, transports: map[string]*fakeTransport{}}
	w.last = r
	return r, nil
}

func (w *fakeWorker) lastRouter() *fakeRouter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *fakeWorker) created() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

type fakeRouter struct {
	id  string
	log *closeLog

	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.MediaTransport, error) {
	t := &fakeTransport{opts: opts, log: r.log, bitrate: opts.InitialBitrate}
	r.mu.Lock()
	r.transports[opts.ID] = t
	r.mu.Unlock()
	return t, nil
}

func (r *fakeRouter) transport(id string) *fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[id]
}

func (r *fakeRouter) Close() { r.log.add("router", r.id) }

type fakeTransport struct {
	opts core.TransportOptions
	log  *closeLog

	mu         sync.Mutex
	remote     *core.RemoteTransportParameters
	bitrate    int
	connectErr error
}

func (t *fakeTransport) ID() string { return t.opts.ID }

func (t *fakeTransport) Parameters() core.TransportParameters {
	return core.TransportParameters{
		ICEParameters:  webrtc.ICEParameters{UsernameFragment: "ufrag-" + t.opts.ID, Password: "pwd"},
		DTLSParameters: webrtc.DTLSParameters{Role: webrtc.DTLSRoleServer},
	}
}

func (t *fakeTransport) Connect(ctx context.Context, remote core.RemoteTransportParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.remote = &remote
	return nil
}

// confirm plays the engine reporting a selected candidate pair.
func (t *fakeTransport) confirm() { t.opts.OnState(core.EngineTransportConnected) }

func (t *fakeTransport) fail() { t.opts.OnState(core.EngineTransportFailed) }

func (t *fakeTransport) Produce(ctx context.Context, opts core.ProducerOptions) (core.MediaProducer, error) {
	return &fakeProducer{id: opts.ID, log: t.log, codec: opts.Codec}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, p core.MediaProducer, opts core.ConsumerOptions) (core.MediaConsumer, error) {
	fp := p.(*fakeProducer)
	return &fakeConsumer{id: opts.ID, log: t.log, codec: fp.codec}, nil
}

func (t *fakeTransport) SetMaxBitrate(bps int) error {
	t.mu.Lock()
	t.bitrate = bps
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) currentBitrate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bitrate
}

func (t *fakeTransport) Close() { t.log.add("transport", t.opts.ID) }

type fakeProducer struct {
	id    string
	log   *closeLog
	codec webrtc.RTPCodecParameters
}

func (p *fakeProducer) ID() string { return p.id }
func (p *fakeProducer) Close()     { p.log.add("producer", p.id) }

type fakeConsumer struct {
	id    string
	log   *closeLog
	codec webrtc.RTPCodecParameters
}

func (c *fakeConsumer) ID() string { return c.id }

func (c *fakeConsumer) Parameters() core.ConsumerParameters {
	return core.ConsumerParameters{Codec: c.codec, SSRC: 4242}
}

func (c *fakeConsumer) Close() { c.log.add("consumer", c.id) }
