package orch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) setFull(v bool) {
	c.mu.Lock()
	c.full = v
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// types lists the type field of every frame received so far.
func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, got := range c.types(t) {
		if got == typ {
			n++
		}
	}
	return n
}

// instantEngine connects every transport as soon as Connect is called.
type instantEngine struct{ w *instantWorker }

func newInstantEngine() *instantEngine { return &instantEngine{w: &instantWorker{}} }

func (e *instantEngine) Workers() []core.MediaWorker { return []core.MediaWorker{e.w} }
func (e *instantEngine) Close() error                { return nil }

type instantWorker struct{}

func (*instantWorker) ID() int { return 0 }
func (*instantWorker) CreateRouter(_ context.Context, id string) (core.MediaRouter, error) {
	return &instantRouter{id: id}, nil
}

type instantRouter struct{ id string }

func (r *instantRouter) ID() string { return r.id }
func (r *instantRouter) Close()     {}
func (r *instantRouter) CreateTransport(_ context.Context, opts core.TransportOptions) (core.MediaTransport, error) {
	return &instantTransport{id: opts.ID, onState: opts.OnState}, nil
}

type instantTransport struct {
	id      string
	onState func(core.EngineTransportState)
}

func (t *instantTransport) ID() string                           { return t.id }
func (t *instantTransport) Parameters() core.TransportParameters { return core.TransportParameters{} }
func (t *instantTransport) SetMaxBitrate(int) error              { return nil }
func (t *instantTransport) Close()                               {}

func (t *instantTransport) Connect(context.Context, core.RemoteTransportParameters) error {
	t.onState(core.EngineTransportConnected)
	return nil
}

func (t *instantTransport) Produce(_ context.Context, opts core.ProducerOptions) (core.MediaProducer, error) {
	return handle(opts.ID), nil
}

func (t *instantTransport) Consume(_ context.Context, p core.MediaProducer, opts core.ConsumerOptions) (core.MediaConsumer, error) {
	return consumerHandle{id: opts.ID}, nil
}

type handle string

func (h handle) ID() string { return string(h) }
func (h handle) Close()     {}

type consumerHandle struct{ id string }

func (c consumerHandle) ID() string { return c.id }
func (c consumerHandle) Close()     {}
func (c consumerHandle) Parameters() core.ConsumerParameters {
	return core.ConsumerParameters{SSRC: 7}
}

// requestIDs lists the requestId of every frame of type typ.
func (c *fakeConn) requestIDs(t *testing.T, typ string) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		var env struct {
			Type      string `json:"type"`
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		if env.Type == typ {
			out = append(out, env.RequestID)
		}
	}
	return out
}

var opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

type peer struct {
	sid    core.SessionID
	user   domain.UserID
	conn   *fakeConn
	ctx    context.Context
	cancel context.CancelFunc
}

func connect(o *Orchestrator, n int, user string) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		sid:    core.SessionID(fmt.Sprintf("sid-%s-%d", user, n)),
		user:   domain.UserID(user),
		conn:   &fakeConn{},
		ctx:    ctx,
		cancel: cancel,
	}
	o.Registry.Bind(core.NewMemberSession(p.sid, domain.Identity{UserID: p.user, Email: user + "@example.com"}, p.conn), cancel)
	return p
}
