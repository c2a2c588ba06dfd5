// Package sfu owns the per-room media resource graph: one router per
// room bound to the fixed capability set, and per participant a send
// and a receive transport with their producers and consumers. It talks
// to a core.MediaEngine and never holds a lock across an engine call:
// state is checked and reserved under the graph lock, the engine is
// called unlocked, and the result is applied in a second short locked
// step.
package sfu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type Options struct {
	Capabilities Capabilities
	Bitrate      BitratePolicy
	Selection    Selection
	// IdleTimeout closes transports that never reach connected.
	IdleTimeout time.Duration
	Clock       clock.Clock
	// OnEvent receives asynchronous closes. It is called with no lock held.
	OnEvent EventFunc
}

type EventKind int

const (
	EventProducerClosed EventKind = iota + 1
	EventConsumerClosed
	EventTransportClosed
)

// Event reports a media object that went away. User is the owner of
// the closed object.
type Event struct {
	Kind        EventKind
	User        domain.UserID
	TransportID string
	ProducerID  string
	ConsumerID  string
	MediaKind   core.MediaKind
}

type EventFunc func(room domain.RoomID, ev Event)

type TransportInfo struct {
	ID        string    `json:"transportId"`
	Direction Direction `json:"direction"`
	core.TransportParameters
	InitialBitrate int `json:"initialAvailableOutgoingBitrate"`
}

type ProducerInfo struct {
	ID     string         `json:"producerId"`
	UserID domain.UserID  `json:"userId"`
	Kind   core.MediaKind `json:"kind"`
}

type RTPParameters struct {
	Codec Codec  `json:"codec"`
	SSRC  uint32 `json:"ssrc"`
}

type ConsumerInfo struct {
	ID            string         `json:"consumerId"`
	ProducerID    string         `json:"producerId"`
	UserID        domain.UserID  `json:"userId"`
	Kind          core.MediaKind `json:"kind"`
	RTPParameters RTPParameters  `json:"rtpParameters"`
}

type GraphStats struct {
	Worker     int `json:"worker"`
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}

type Manager struct {
	opts Options
	pool *pool

	mu     sync.Mutex
	graphs map[domain.RoomID]*graph
}

type graph struct {
	room domain.RoomID

	// ready is closed once router creation settled; router, worker and
	// err are immutable afterwards.
	ready  chan struct{}
	router core.MediaRouter
	worker int
	err    error

	mu         sync.Mutex
	closed     bool
	transports map[string]*transport
	producers  map[string]*producer
}

type transport struct {
	id      string
	owner   domain.UserID
	dir     Direction
	state   TransportState
	bitrate int
	engine  core.MediaTransport
	idle    clock.Timer

	producers map[core.MediaKind]*producer
	consumers map[consumerKey]*consumer
}

// consumerKey is (participant, kind) of the consumed producer.
type consumerKey struct {
	user domain.UserID
	kind core.MediaKind
}

// A producer or consumer with a nil engine is a reservation whose
// engine call is still in flight.
type producer struct {
	id        string
	owner     domain.UserID
	kind      core.MediaKind
	codec     Codec
	transport *transport
	engine    core.MediaProducer
	closed    bool
	consumers map[string]*consumer
}

type consumer struct {
	id        string
	owner     domain.UserID
	key       consumerKey
	producer  *producer
	transport *transport
	engine    core.MediaConsumer
	closed    bool
}

func NewManager(engine core.MediaEngine, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if len(opts.Capabilities.Codecs) == 0 {
		opts.Capabilities = DefaultCapabilities()
	}
	if opts.Bitrate == (BitratePolicy{}) {
		opts.Bitrate = DefaultBitratePolicy()
	}
	opts.Bitrate.Initial = opts.Bitrate.Clamp(opts.Bitrate.Initial)
	return &Manager{
		opts:   opts,
		pool:   newPool(engine.Workers(), opts.Selection),
		graphs: make(map[domain.RoomID]*graph),
	}
}

func (m *Manager) Capabilities() Capabilities { return m.opts.Capabilities }

// WorkerLoad returns the number of routers on each worker.
func (m *Manager) WorkerLoad() []int { return m.pool.Load() }

// graphFor returns the room's graph, creating its router on first use.
// Concurrent callers for the same room wait on a single creation.
func (m *Manager) graphFor(ctx context.Context, room domain.RoomID) (*graph, error) {
	m.mu.Lock()
	g, ok := m.graphs[room]
	if !ok {
		g = &graph{
			room:       room,
			ready:      make(chan struct{}),
			worker:     -1,
			transports: make(map[string]*transport),
			producers:  make(map[string]*producer),
		}
		m.graphs[room] = g
		m.mu.Unlock()
		m.buildRouter(ctx, g)
	} else {
		m.mu.Unlock()
	}

	select {
	case <-g.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g, nil
}

func (m *Manager) buildRouter(ctx context.Context, g *graph) {
	defer close(g.ready)
	w, idx, err := m.pool.acquire()
	if err == nil {
		g.router, err = w.CreateRouter(ctx, uuid.NewString())
		if err != nil {
			m.pool.release(idx)
		}
	}
	if err != nil {
		g.err = engineErr("create router", err)
		m.mu.Lock()
		if m.graphs[g.room] == g {
			delete(m.graphs, g.room)
		}
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "sfu").Str("room", string(g.room)).Msg("router creation failed")
		return
	}
	g.worker = idx
	log.Info().Str("module", "sfu").Str("room", string(g.room)).Str("router", g.router.ID()).Int("worker", idx).Msg("router created")
}

// lookup returns a settled, usable graph without creating one.
func (m *Manager) lookup(room domain.RoomID) (*graph, error) {
	m.mu.Lock()
	g, ok := m.graphs[room]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no media graph for room %s", domain.ErrNotFound, room)
	}
	<-g.ready
	if g.err != nil {
		return nil, g.err
	}
	return g, nil
}

func (m *Manager) CreateTransport(ctx context.Context, room domain.RoomID, user domain.UserID, dir Direction) (TransportInfo, error) {
	if !dir.Valid() {
		return TransportInfo{}, fmt.Errorf("%w: direction %q", domain.ErrBadRequest, dir)
	}
	g, err := m.graphFor(ctx, room)
	if err != nil {
		return TransportInfo{}, err
	}

	t := &transport{
		id:        uuid.NewString(),
		owner:     user,
		dir:       dir,
		state:     TransportCreated,
		bitrate:   m.opts.Bitrate.Initial,
		producers: make(map[core.MediaKind]*producer),
		consumers: make(map[consumerKey]*consumer),
	}
	et, err := g.router.CreateTransport(ctx, core.TransportOptions{
		ID:             t.id,
		InitialBitrate: t.bitrate,
		OnState:        func(s core.EngineTransportState) { m.onEngineState(g, t.id, s) },
	})
	if err != nil {
		return TransportInfo{}, engineErr("create transport", err)
	}

	var td teardown
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		et.Close()
		return TransportInfo{}, ErrGraphClosed
	}
	t.engine = et
	for _, old := range g.transports {
		if old.owner == user && old.dir == dir {
			g.closeTransportLocked(old, &td)
		}
	}
	g.transports[t.id] = t
	if m.opts.IdleTimeout > 0 {
		t.idle = m.opts.Clock.AfterFunc(m.opts.IdleTimeout, func() { m.expireTransport(g, t.id) })
	}
	g.mu.Unlock()
	m.finish(g.room, &td)

	log.Info().Str("module", "sfu").Str("room", string(room)).Str("user", string(user)).
		Str("transport", t.id).Str("direction", string(dir)).Msg("transport created")
	return TransportInfo{
		ID:                  t.id,
		Direction:           dir,
		TransportParameters: et.Parameters(),
		InitialBitrate:      t.bitrate,
	}, nil
}

// ConnectTransport moves a created transport to connecting and hands
// the client's parameters to the engine. Connected follows once the
// engine confirms a candidate pair.
func (m *Manager) ConnectTransport(ctx context.Context, room domain.RoomID, user domain.UserID, id string, remote core.RemoteTransportParameters) error {
	g, err := m.lookup(room)
	if err != nil {
		return err
	}
	g.mu.Lock()
	t, err := g.transportLocked(id, user)
	if err == nil && !CanTransition(t.state, TransportConnecting) {
		err = fmt.Errorf("%w: transport is %s", ErrTransportState, t.state)
	}
	if err != nil {
		g.mu.Unlock()
		return err
	}
	t.state = TransportConnecting
	et := t.engine
	g.mu.Unlock()

	if err := et.Connect(ctx, remote); err != nil {
		var td teardown
		g.mu.Lock()
		if g.transports[id] == t {
			g.closeTransportLocked(t, &td)
		}
		g.mu.Unlock()
		m.finish(g.room, &td)
		return engineErr("connect transport", err)
	}
	return nil
}

func (m *Manager) Produce(ctx context.Context, room domain.RoomID, user domain.UserID, transportID string, kind core.MediaKind, codec webrtc.RTPCodecCapability, ssrc uint32) (ProducerInfo, error) {
	if !kind.Valid() {
		return ProducerInfo{}, fmt.Errorf("%w: kind %q", domain.ErrBadRequest, kind)
	}
	if ssrc == 0 {
		return ProducerInfo{}, fmt.Errorf("%w: ssrc required", domain.ErrBadRequest)
	}
	g, err := m.lookup(room)
	if err != nil {
		return ProducerInfo{}, err
	}

	g.mu.Lock()
	t, err := g.connectedLocked(transportID, user, DirectionSend)
	if err != nil {
		g.mu.Unlock()
		return ProducerInfo{}, err
	}
	matched, ok := m.opts.Capabilities.Match(kind, codec)
	if !ok {
		g.mu.Unlock()
		return ProducerInfo{}, fmt.Errorf("%w: %s/%d", ErrUnsupportedCodec, codec.MimeType, codec.ClockRate)
	}
	if _, busy := t.producers[kind]; busy {
		g.mu.Unlock()
		return ProducerInfo{}, ErrAlreadyProducing
	}
	p := &producer{
		id:        uuid.NewString(),
		owner:     user,
		kind:      kind,
		codec:     matched,
		transport: t,
		consumers: make(map[string]*consumer),
	}
	t.producers[kind] = p
	et := t.engine
	g.mu.Unlock()

	ep, err := et.Produce(ctx, core.ProducerOptions{
		ID:    p.id,
		Kind:  kind,
		Codec: matched.Parameters(),
		SSRC:  webrtc.SSRC(ssrc),
	})

	g.mu.Lock()
	if err != nil {
		if t.producers[kind] == p {
			delete(t.producers, kind)
		}
		g.mu.Unlock()
		return ProducerInfo{}, engineErr("produce", err)
	}
	if p.closed || t.producers[kind] != p {
		g.mu.Unlock()
		ep.Close()
		return ProducerInfo{}, fmt.Errorf("%w: transport closed while producing", ErrTransportState)
	}
	p.engine = ep
	g.producers[p.id] = p
	g.mu.Unlock()

	log.Info().Str("module", "sfu").Str("room", string(room)).Str("user", string(user)).
		Str("producer", p.id).Str("kind", string(kind)).Str("codec", matched.MimeType).Msg("producer created")
	return p.info(), nil
}

func (m *Manager) Consume(ctx context.Context, room domain.RoomID, user domain.UserID, transportID, producerID string) (ConsumerInfo, error) {
	g, err := m.lookup(room)
	if err != nil {
		return ConsumerInfo{}, err
	}

	g.mu.Lock()
	t, err := g.connectedLocked(transportID, user, DirectionRecv)
	if err != nil {
		g.mu.Unlock()
		return ConsumerInfo{}, err
	}
	p, ok := g.producers[producerID]
	if !ok {
		g.mu.Unlock()
		return ConsumerInfo{}, fmt.Errorf("%w: producer %s", domain.ErrNotFound, producerID)
	}
	if p.owner == user {
		g.mu.Unlock()
		return ConsumerInfo{}, ErrOwnProducer
	}
	key := consumerKey{user: p.owner, kind: p.kind}
	if _, busy := t.consumers[key]; busy {
		g.mu.Unlock()
		return ConsumerInfo{}, ErrAlreadyConsuming
	}
	c := &consumer{
		id:        uuid.NewString(),
		owner:     user,
		key:       key,
		producer:  p,
		transport: t,
	}
	t.consumers[key] = c
	p.consumers[c.id] = c
	et, ep := t.engine, p.engine
	g.mu.Unlock()

	ec, err := et.Consume(ctx, ep, core.ConsumerOptions{ID: c.id})

	g.mu.Lock()
	if err != nil {
		c.detachLocked()
		g.mu.Unlock()
		return ConsumerInfo{}, engineErr("consume", err)
	}
	if c.closed {
		g.mu.Unlock()
		ec.Close()
		return ConsumerInfo{}, fmt.Errorf("%w: producer or transport closed while consuming", domain.ErrNotFound)
	}
	c.engine = ec
	g.mu.Unlock()

	params := ec.Parameters()
	log.Info().Str("module", "sfu").Str("room", string(room)).Str("user", string(user)).
		Str("consumer", c.id).Str("producer", p.id).Msg("consumer created")
	return ConsumerInfo{
		ID:         c.id,
		ProducerID: p.id,
		UserID:     p.owner,
		Kind:       p.kind,
		RTPParameters: RTPParameters{
			Codec: codecFromParameters(p.codec.Kind, params.Codec),
			SSRC:  uint32(params.SSRC),
		},
	}, nil
}

// SetBitrate clamps bps to the policy and applies it to the transport.
// It returns the bitrate actually applied.
func (m *Manager) SetBitrate(room domain.RoomID, user domain.UserID, transportID string, bps int) (int, error) {
	g, err := m.lookup(room)
	if err != nil {
		return 0, err
	}
	applied := m.opts.Bitrate.Clamp(bps)
	g.mu.Lock()
	t, err := g.transportLocked(transportID, user)
	if err != nil {
		g.mu.Unlock()
		return 0, err
	}
	t.bitrate = applied
	et := t.engine
	g.mu.Unlock()

	if err := et.SetMaxBitrate(applied); err != nil {
		return 0, engineErr("set bitrate", err)
	}
	return applied, nil
}

// CloseProducer closes one of user's producers and every consumer of it.
func (m *Manager) CloseProducer(room domain.RoomID, user domain.UserID, producerID string) error {
	g, err := m.lookup(room)
	if err != nil {
		return err
	}
	var td teardown
	g.mu.Lock()
	p, ok := g.producers[producerID]
	if !ok || p.owner != user {
		g.mu.Unlock()
		return fmt.Errorf("%w: producer %s", domain.ErrNotFound, producerID)
	}
	g.closeProducerLocked(p, &td)
	g.mu.Unlock()
	m.finish(room, &td)
	return nil
}

// Producers lists the live producers of room.
func (m *Manager) Producers(room domain.RoomID) []ProducerInfo {
	g, err := m.lookup(room)
	if err != nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ProducerInfo, 0, len(g.producers))
	for _, p := range g.producers {
		out = append(out, p.info())
	}
	return out
}

// RemoveParticipant closes every transport user owns in room.
func (m *Manager) RemoveParticipant(room domain.RoomID, user domain.UserID) {
	g, err := m.lookup(room)
	if err != nil {
		return
	}
	var td teardown
	g.mu.Lock()
	for _, t := range g.transports {
		if t.owner == user {
			g.closeTransportLocked(t, &td)
		}
	}
	g.mu.Unlock()
	m.finish(room, &td)
}

// CloseRoom destroys the room's router after closing all its transports.
func (m *Manager) CloseRoom(room domain.RoomID) {
	m.mu.Lock()
	g, ok := m.graphs[room]
	if ok {
		delete(m.graphs, room)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	<-g.ready
	if g.err != nil {
		return
	}

	var td teardown
	g.mu.Lock()
	g.closed = true
	for _, t := range g.transports {
		g.closeTransportLocked(t, &td)
	}
	td.router = g.router
	g.mu.Unlock()
	m.finish(room, &td)
	m.pool.release(g.worker)
	log.Info().Str("module", "sfu").Str("room", string(room)).Int("worker", g.worker).Msg("router closed")
}

// Close tears down every graph. The engine itself is closed by its owner.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := make([]domain.RoomID, 0, len(m.graphs))
	for id := range m.graphs {
		rooms = append(rooms, id)
	}
	m.mu.Unlock()
	for _, id := range rooms {
		m.CloseRoom(id)
	}
}

func (m *Manager) Stats(room domain.RoomID) (GraphStats, bool) {
	g, err := m.lookup(room)
	if err != nil {
		return GraphStats{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st := GraphStats{Worker: g.worker, Transports: len(g.transports), Producers: len(g.producers)}
	for _, t := range g.transports {
		st.Consumers += len(t.consumers)
	}
	return st, true
}

// TransportState reports the state of a transport; closed transports
// are forgotten and report false.
func (m *Manager) TransportState(room domain.RoomID, transportID string) (TransportState, bool) {
	g, err := m.lookup(room)
	if err != nil {
		return TransportClosed, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transports[transportID]
	if !ok {
		return TransportClosed, false
	}
	return t.state, true
}

func (m *Manager) onEngineState(g *graph, id string, s core.EngineTransportState) {
	var td teardown
	g.mu.Lock()
	t, ok := g.transports[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	switch s {
	case core.EngineTransportConnected:
		if CanTransition(t.state, TransportConnected) {
			t.state = TransportConnected
			if t.idle != nil {
				t.idle.Stop()
				t.idle = nil
			}
			log.Info().Str("module", "sfu").Str("room", string(g.room)).Str("transport", id).Msg("transport connected")
		}
	case core.EngineTransportFailed, core.EngineTransportClosed:
		g.closeTransportLocked(t, &td)
		log.Warn().Str("module", "sfu").Str("room", string(g.room)).Str("transport", id).Msg("transport lost by engine")
	}
	g.mu.Unlock()
	m.finish(g.room, &td)
}

func (m *Manager) expireTransport(g *graph, id string) {
	var td teardown
	g.mu.Lock()
	t, ok := g.transports[id]
	if ok && t.state != TransportConnected {
		g.closeTransportLocked(t, &td)
		log.Info().Str("module", "sfu").Str("room", string(g.room)).Str("transport", id).Msg("idle transport closed")
	}
	g.mu.Unlock()
	m.finish(g.room, &td)
}

// finish releases engine handles and then reports events.
func (m *Manager) finish(room domain.RoomID, td *teardown) {
	td.run()
	if m.opts.OnEvent == nil {
		return
	}
	for _, ev := range td.events {
		m.opts.OnEvent(room, ev)
	}
}

func (g *graph) transportLocked(id string, user domain.UserID) (*transport, error) {
	t, ok := g.transports[id]
	if !ok || t.owner != user {
		return nil, fmt.Errorf("%w: transport %s", domain.ErrNotFound, id)
	}
	return t, nil
}

func (g *graph) connectedLocked(id string, user domain.UserID, dir Direction) (*transport, error) {
	t, err := g.transportLocked(id, user)
	if err != nil {
		return nil, err
	}
	if t.dir != dir {
		return nil, fmt.Errorf("%w: need a %s transport", ErrWrongDirection, dir)
	}
	if t.state != TransportConnected {
		return nil, fmt.Errorf("%w: transport is %s", ErrTransportState, t.state)
	}
	return t, nil
}

// closeTransportLocked marks t closed and cascades to everything it
// owns, including consumers other participants hold of its producers.
func (g *graph) closeTransportLocked(t *transport, td *teardown) {
	if t.state == TransportClosed {
		return
	}
	t.state = TransportClosed
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	delete(g.transports, t.id)
	for _, p := range t.producers {
		g.closeProducerLocked(p, td)
	}
	for _, c := range t.consumers {
		g.closeConsumerLocked(c, td)
	}
	if t.engine != nil {
		td.transports = append(td.transports, t.engine)
	}
	td.events = append(td.events, Event{Kind: EventTransportClosed, User: t.owner, TransportID: t.id})
}

func (g *graph) closeProducerLocked(p *producer, td *teardown) {
	if p.closed {
		return
	}
	p.closed = true
	if p.transport.producers[p.kind] == p {
		delete(p.transport.producers, p.kind)
	}
	for _, c := range p.consumers {
		g.closeConsumerLocked(c, td)
	}
	if p.engine == nil {
		return
	}
	delete(g.producers, p.id)
	td.producers = append(td.producers, p.engine)
	td.events = append(td.events, Event{Kind: EventProducerClosed, User: p.owner, ProducerID: p.id, TransportID: p.transport.id, MediaKind: p.kind})
}

func (g *graph) closeConsumerLocked(c *consumer, td *teardown) {
	if c.closed {
		return
	}
	c.detachLocked()
	if c.engine == nil {
		return
	}
	td.consumers = append(td.consumers, c.engine)
	td.events = append(td.events, Event{Kind: EventConsumerClosed, User: c.owner, ConsumerID: c.id, ProducerID: c.producer.id, TransportID: c.transport.id, MediaKind: c.key.kind})
}

func (c *consumer) detachLocked() {
	c.closed = true
	if c.transport.consumers[c.key] == c {
		delete(c.transport.consumers, c.key)
	}
	delete(c.producer.consumers, c.id)
}

func (p *producer) info() ProducerInfo {
	return ProducerInfo{ID: p.id, UserID: p.owner, Kind: p.kind}
}

// teardown collects engine handles to release once the graph lock is
// gone. Release runs leaf-first so no handle outlives its parent.
type teardown struct {
	consumers  []core.MediaConsumer
	producers  []core.MediaProducer
	transports []core.MediaTransport
	router     core.MediaRouter
	events     []Event
}

func (td *teardown) run() {
	for _, c := range td.consumers {
		c.Close()
	}
	for _, p := range td.producers {
		p.Close()
	}
	for _, t := range td.transports {
		t.Close()
	}
	if td.router != nil {
		td.router.Close()
	}
}

func codecFromParameters(kind string, p webrtc.RTPCodecParameters) Codec {
	return Codec{
		Kind:        kind,
		MimeType:    p.MimeType,
		ClockRate:   p.ClockRate,
		Channels:    p.Channels,
		SDPFmtpLine: p.SDPFmtpLine,
		PayloadType: uint8(p.PayloadType),
	}
}
