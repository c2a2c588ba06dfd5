package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errClosed = errors.New("rtc: closed")

type EngineConfig struct {
	Workers      int
	ICEServers   []string
	UDPPortMin   uint16
	UDPPortMax   uint16
	Capabilities sfu.Capabilities
}

// Engine is an in-process media engine. Each worker owns its own pion
// API so codec registration and interceptors never leak between them.
type Engine struct {
	workers []*worker

	closeOnce sync.Once
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg EngineConfig) (*Engine, error) {
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	e := &Engine{}
	for i := range n {
		api, err := newAPI(cfg)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		e.workers = append(e.workers, &worker{
			id:         i,
			api:        api,
			iceServers: servers,
			routers:    make(map[string]*router),
		})
	}
	log.Info().Str("module", "rtc").Int("workers", n).Int("codecs", len(cfg.Capabilities.Codecs)).Msg("media engine started")
	return e, nil
}

func newAPI(cfg EngineConfig) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range cfg.Capabilities.Codecs {
		if err := m.RegisterCodec(c.Parameters(), c.CodecType()); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax > 0 {
		if err := s.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	), nil
}

func (e *Engine) Workers() []core.MediaWorker {
	out := make([]core.MediaWorker, len(e.workers))
	for i, w := range e.workers {
		out[i] = w
	}
	return out
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		for _, w := range e.workers {
			w.closeAll()
		}
		log.Info().Str("module", "rtc").Msg("media engine stopped")
	})
	return nil
}

type worker struct {
	id         int
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	routers map[string]*router
}

func (w *worker) ID() int { return w.id }

func (w *worker) CreateRouter(ctx context.Context, id string) (core.MediaRouter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &router{id: id, w: w, transports: make(map[string]*transport)}
	w.mu.Lock()
	if _, dup := w.routers[id]; dup {
		w.mu.Unlock()
		return nil, fmt.Errorf("router %s already exists on worker %d", id, w.id)
	}
	w.routers[id] = r
	w.mu.Unlock()
	log.Debug().Str("module", "rtc").Int("worker", w.id).Str("router", id).Msg("router created")
	return r, nil
}

func (w *worker) closeAll() {
	w.mu.Lock()
	routers := make([]*router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

func (w *worker) routerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

type router struct {
	id string
	w  *worker

	mu         sync.Mutex
	transports map[string]*transport
	closed     bool
}

func (r *router) ID() string { return r.id }

func (r *router) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.MediaTransport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errClosed
	}
	r.mu.Unlock()

	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		go t.Close()
		return nil, errClosed
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *router) forget(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close closes whatever transports remain and detaches from the worker.
func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	left := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		left = append(left, t)
	}
	r.mu.Unlock()

	for _, t := range left {
		t.Close()
	}

	r.w.mu.Lock()
	delete(r.w.routers, r.id)
	r.w.mu.Unlock()
	log.Debug().Str("module", "rtc").Int("worker", r.w.id).Str("router", r.id).Msg("router closed")
}
