package sfu_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var (
	opus = webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
	vp8  = webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000}
	vp9  = webrtc.RTPCodecCapability{MimeType: "video/VP9", ClockRate: 90000}
)

type harness struct {
	engine *fakeEngine
	clock  *clock.Fake
	mgr    *sfu.Manager

	mu     sync.Mutex
	events []sfu.Event
}

func newHarness(t *testing.T, workers int, selection sfu.Selection) *harness {
	t.Helper()
	h := &harness{
		engine: newFakeEngine(workers),
		clock:  clock.NewFake(time.Unix(1_700_000_000, 0)),
	}
	h.mgr = sfu.NewManager(h.engine, sfu.Options{
		Selection:   selection,
		IdleTimeout: 30 * time.Second,
		Clock:       h.clock,
		OnEvent: func(room domain.RoomID, ev sfu.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) eventsOf(kind sfu.EventKind) []sfu.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sfu.Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) router(t *testing.T) *fakeRouter {
	t.Helper()
	for _, w := range h.engine.workers {
		if r := w.lastRouter(); r != nil {
			return r
		}
	}
	t.Fatal("no router created")
	return nil
}

// connected creates and connects a transport for user.
func (h *harness) connected(t *testing.T, room domain.RoomID, user domain.UserID, dir sfu.Direction) sfu.TransportInfo {
	t.Helper()
	ctx := context.Background()
	info, err := h.mgr.CreateTransport(ctx, room, user, dir)
	if err != nil {
		t.Fatalf("create %s transport for %s: %v", dir, user, err)
	}
	if err := h.mgr.ConnectTransport(ctx, room, user, info.ID, core.RemoteTransportParameters{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.router(t).transport(info.ID).confirm()
	return info
}

func TestTransportStateMachine(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	ctx := context.Background()

	info, err := h.mgr.CreateTransport(ctx, "r1", "A", sfu.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	if info.InitialBitrate != 1_000_000 {
		t.Fatalf("initial bitrate = %d", info.InitialBitrate)
	}
	if info.ICEParameters.UsernameFragment == "" {
		t.Fatal("transport parameters missing")
	}
	if st, _ := h.mgr.TransportState("r1", info.ID); st != sfu.TransportCreated {
		t.Fatalf("state = %s", st)
	}

	if _, err := h.mgr.Produce(ctx, "r1", "A", info.ID, core.KindAudio, opus, 1); !errors.Is(err, sfu.ErrTransportState) {
		t.Fatalf("produce on created transport: %v", err)
	}

	if err := h.mgr.ConnectTransport(ctx, "r1", "A", info.ID, core.RemoteTransportParameters{}); err != nil {
		t.Fatal(err)
	}
	if st, _ := h.mgr.TransportState("r1", info.ID); st != sfu.TransportConnecting {
		t.Fatalf("state = %s", st)
	}
	if err := h.mgr.ConnectTransport(ctx, "r1", "A", info.ID, core.RemoteTransportParameters{}); !errors.Is(err, sfu.ErrTransportState) {
		t.Fatalf("second connect: %v", err)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", info.ID, core.KindAudio, opus, 1); !errors.Is(err, sfu.ErrTransportState) {
		t.Fatalf("produce on connecting transport: %v", err)
	}

	h.router(t).transport(info.ID).confirm()
	if st, _ := h.mgr.TransportState("r1", info.ID); st != sfu.TransportConnected {
		t.Fatalf("state = %s", st)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", info.ID, core.KindAudio, opus, 1); err != nil {
		t.Fatalf("produce: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to sfu.TransportState
		want     bool
	}{
		{sfu.TransportCreated, sfu.TransportConnecting, true},
		{sfu.TransportCreated, sfu.TransportConnected, false},
		{sfu.TransportConnecting, sfu.TransportConnected, true},
		{sfu.TransportConnected, sfu.TransportConnecting, false},
		{sfu.TransportCreated, sfu.TransportClosed, true},
		{sfu.TransportConnected, sfu.TransportClosed, true},
		{sfu.TransportClosed, sfu.TransportClosed, false},
		{sfu.TransportClosed, sfu.TransportCreated, false},
	}
	for _, tt := range tests {
		if got := sfu.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProduceRejectsUnadvertisedCodec(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	ctx := context.Background()
	send := h.connected(t, "r1", "A", sfu.DirectionSend)

	if _, err := h.mgr.Produce(ctx, "r1", "A", send.ID, core.KindVideo, vp9, 1); !errors.Is(err, sfu.ErrUnsupportedCodec) {
		t.Fatalf("vp9: %v", err)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", send.ID, core.KindAudio, vp8, 1); !errors.Is(err, sfu.ErrUnsupportedCodec) {
		t.Fatalf("vp8 as audio: %v", err)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", send.ID, core.KindVideo, vp8, 2); err != nil {
		t.Fatalf("vp8: %v", err)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", send.ID, core.KindVideo, vp8, 3); !errors.Is(err, sfu.ErrAlreadyProducing) {
		t.Fatalf("second video producer: %v", err)
	}
	if _, err := h.mgr.Produce(ctx, "r1", "A", send.ID, core.KindScreen, vp8, 4); err != nil {
		t.Fatalf("screen producer: %v", err)
	}
}

func TestConsumeAndProducerCloseCascade(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	ctx := context.Background()
	sendA := h.connected(t, "r1", "A", sfu.DirectionSend)
	recvA := h.connected(t, "r1", "A", sfu.DirectionRecv)
	recvB := h.connected(t, "r1", "B", sfu.DirectionRecv)

	prod, err := h.mgr.Produce(ctx, "r1", "A", sendA.ID, core.KindVideo, vp8, 7)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.mgr.Consume(ctx, "r1", "B", sendA.ID, prod.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("consume on someone else's transport: %v", err)
	}
	if _, err := h.mgr.Consume(ctx, "r1", "A", recvA.ID, prod.ID); !errors.Is(err, sfu.ErrOwnProducer) {
		t.Fatalf("consume own: %v", err)
	}
	cons, err := h.mgr.Consume(ctx, "r1", "B", recvB.ID, prod.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cons.UserID != "A" || cons.Kind != core.KindVideo || cons.RTPParameters.Codec.PayloadType != 101 {
		t.Fatalf("consumer = %+v", cons)
	}
	if _, err := h.mgr.Consume(ctx, "r1", "B", recvB.ID, prod.ID); !errors.Is(err, sfu.ErrAlreadyConsuming) {
		t.Fatalf("duplicate consume: %v", err)
	}

	if err := h.mgr.CloseProducer("r1", "B", prod.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("close by non-owner: %v", err)
	}
	if err := h.mgr.CloseProducer("r1", "A", prod.ID); err != nil {
		t.Fatal(err)
	}
	closedCons := h.eventsOf(sfu.EventConsumerClosed)
	if len(closedCons) != 1 || closedCons[0].User != "B" || closedCons[0].ConsumerID != cons.ID {
		t.Fatalf("consumer-closed events = %+v", closedCons)
	}
	closedProd := h.eventsOf(sfu.EventProducerClosed)
	if len(closedProd) != 1 || closedProd[0].ProducerID != prod.ID {
		t.Fatalf("producer-closed events = %+v", closedProd)
	}
	want := []string{"consumer:" + cons.ID, "producer:" + prod.ID}
	if got := h.engine.log.all(); !slices.Equal(got, want) {
		t.Fatalf("release order = %v, want %v", got, want)
	}
	if len(h.mgr.Producers("r1")) != 0 {
		t.Fatal("producer still listed")
	}
}

func TestCloseRoomReleasesLeafFirst(t *testing.T) {
	h := newHarness(t, 2, sfu.RoundRobin)
	ctx := context.Background()
	sendA := h.connected(t, "r1", "A", sfu.DirectionSend)
	recvB := h.connected(t, "r1", "B", sfu.DirectionRecv)
	prod, err := h.mgr.Produce(ctx, "r1", "A", sendA.ID, core.KindAudio, opus, 9)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.mgr.Consume(ctx, "r1", "B", recvB.ID, prod.ID); err != nil {
		t.Fatal(err)
	}

	h.mgr.CloseRoom("r1")

	rank := map[string]int{"consumer": 0, "producer": 1, "transport": 2, "router": 3}
	entries := h.engine.log.all()
	if len(entries) != 5 {
		t.Fatalf("released %v", entries)
	}
	prev := -1
	for _, e := range entries {
		r := rank[strings.SplitN(e, ":", 2)[0]]
		if r < prev {
			t.Fatalf("parent released before child: %v", entries)
		}
		prev = r
	}
	if load := h.mgr.WorkerLoad(); slices.Max(load) != 0 {
		t.Fatalf("worker load after close = %v", load)
	}
	if _, ok := h.mgr.Stats("r1"); ok {
		t.Fatal("graph still present")
	}
	if _, err := h.mgr.Consume(ctx, "r1", "B", recvB.ID, prod.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("consume after close: %v", err)
	}
}

func TestRemoveParticipantClosesOthersConsumers(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	ctx := context.Background()
	sendA := h.connected(t, "r1", "A", sfu.DirectionSend)
	recvB := h.connected(t, "r1", "B", sfu.DirectionRecv)
	prod, _ := h.mgr.Produce(ctx, "r1", "A", sendA.ID, core.KindVideo, vp8, 1)
	cons, err := h.mgr.Consume(ctx, "r1", "B", recvB.ID, prod.ID)
	if err != nil {
		t.Fatal(err)
	}

	h.mgr.RemoveParticipant("r1", "A")

	st, ok := h.mgr.Stats("r1")
	if !ok || st.Transports != 1 || st.Producers != 0 || st.Consumers != 0 {
		t.Fatalf("stats = %+v", st)
	}
	ev := h.eventsOf(sfu.EventConsumerClosed)
	if len(ev) != 1 || ev[0].ConsumerID != cons.ID {
		t.Fatalf("consumer-closed = %+v", ev)
	}
	if ev := h.eventsOf(sfu.EventTransportClosed); len(ev) != 1 || ev[0].User != "A" {
		t.Fatalf("transport-closed = %+v", ev)
	}
}

func TestBitrateClamped(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	info, err := h.mgr.CreateTransport(context.Background(), "r1", "A", sfu.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	ft := h.router(t).transport(info.ID)

	tests := []struct{ ask, want int }{
		{100, 600_000},
		{800_000, 800_000},
		{5_000_000, 1_500_000},
	}
	for _, tt := range tests {
		got, err := h.mgr.SetBitrate("r1", "A", info.ID, tt.ask)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want || ft.currentBitrate() != tt.want {
			t.Errorf("ask %d: applied %d, engine %d, want %d", tt.ask, got, ft.currentBitrate(), tt.want)
		}
	}
	if _, err := h.mgr.SetBitrate("r1", "B", info.ID, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign transport: %v", err)
	}
}

func TestIdleTransportTimesOut(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	idle, err := h.mgr.CreateTransport(context.Background(), "r1", "A", sfu.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	live := h.connected(t, "r1", "B", sfu.DirectionSend)

	h.clock.Advance(30 * time.Second)

	if _, ok := h.mgr.TransportState("r1", idle.ID); ok {
		t.Fatal("idle transport survived")
	}
	if st, ok := h.mgr.TransportState("r1", live.ID); !ok || st != sfu.TransportConnected {
		t.Fatalf("connected transport state = %s %v", st, ok)
	}
	ev := h.eventsOf(sfu.EventTransportClosed)
	if len(ev) != 1 || ev[0].TransportID != idle.ID {
		t.Fatalf("events = %+v", ev)
	}
}

func TestEngineFailureClosesTransport(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	send := h.connected(t, "r1", "A", sfu.DirectionSend)
	if _, err := h.mgr.Produce(context.Background(), "r1", "A", send.ID, core.KindAudio, opus, 1); err != nil {
		t.Fatal(err)
	}
	h.router(t).transport(send.ID).fail()
	if _, ok := h.mgr.TransportState("r1", send.ID); ok {
		t.Fatal("failed transport still tracked")
	}
	if ev := h.eventsOf(sfu.EventProducerClosed); len(ev) != 1 {
		t.Fatalf("producer-closed = %+v", ev)
	}
}

func TestRecreatingTransportReplacesOld(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	ctx := context.Background()
	first, _ := h.mgr.CreateTransport(ctx, "r1", "A", sfu.DirectionSend)
	second, err := h.mgr.CreateTransport(ctx, "r1", "A", sfu.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.mgr.TransportState("r1", first.ID); ok {
		t.Fatal("old transport kept")
	}
	if _, ok := h.mgr.TransportState("r1", second.ID); !ok {
		t.Fatal("new transport missing")
	}
}

func TestRouterFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	h.engine.workers[0].failing = 1
	ctx := context.Background()

	_, err := h.mgr.CreateTransport(ctx, "r1", "A", sfu.DirectionSend)
	if !errors.Is(err, domain.ErrResource) {
		t.Fatalf("err = %v", err)
	}
	var me *sfu.MediaError
	if !errors.As(err, &me) || me.Op != "create router" {
		t.Fatalf("err = %#v", err)
	}
	if load := h.mgr.WorkerLoad(); load[0] != 0 {
		t.Fatalf("load leaked: %v", load)
	}
	if _, err := h.mgr.CreateTransport(ctx, "r1", "A", sfu.DirectionSend); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRouterCreatedOncePerRoom(t *testing.T) {
	h := newHarness(t, 1, sfu.RoundRobin)
	w := h.engine.workers[0]
	w.gate = make(chan struct{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := domain.UserID(string(rune('A' + i)))
			_, err := h.mgr.CreateTransport(context.Background(), "r1", user, sfu.DirectionRecv)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(w.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := w.created(); n != 1 {
		t.Fatalf("routers created = %d", n)
	}
	if st, _ := h.mgr.Stats("r1"); st.Transports != 8 {
		t.Fatalf("transports = %d", st.Transports)
	}
}

func TestWorkerSelection(t *testing.T) {
	ctx := context.Background()

	rr := newHarness(t, 3, sfu.RoundRobin)
	for _, room := range []domain.RoomID{"a", "b", "c", "d"} {
		if _, err := rr.mgr.CreateTransport(ctx, room, "u", sfu.DirectionSend); err != nil {
			t.Fatal(err)
		}
	}
	if got := rr.mgr.WorkerLoad(); !slices.Equal(got, []int{2, 1, 1}) {
		t.Fatalf("round robin load = %v", got)
	}

	ll := newHarness(t, 3, sfu.LeastLoaded)
	for _, room := range []domain.RoomID{"a", "b", "c"} {
		ll.mgr.CreateTransport(ctx, room, "u", sfu.DirectionSend)
	}
	ll.mgr.CloseRoom("b")
	ll.mgr.CreateTransport(ctx, "d", "u", sfu.DirectionSend)
	if got := ll.mgr.WorkerLoad(); !slices.Equal(got, []int{1, 1, 1}) {
		t.Fatalf("least loaded load = %v", got)
	}
	if st, _ := ll.mgr.Stats("d"); st.Worker != 1 {
		t.Fatalf("room d on worker %d, want the freed worker 1", st.Worker)
	}
}

func TestWorkerCount(t *testing.T) {
	if n := sfu.WorkerCount(3); n != 3 {
		t.Fatalf("configured = %d", n)
	}
	if n := sfu.WorkerCount(0); n < 1 {
		t.Fatalf("default = %d", n)
	}
}

func TestCapabilitiesMatch(t *testing.T) {
	caps := sfu.DefaultCapabilities()
	tests := []struct {
		kind  core.MediaKind
		codec webrtc.RTPCodecCapability
		ok    bool
		pt    uint8
	}{
		{core.KindAudio, opus, true, 100},
		{core.KindAudio, webrtc.RTPCodecCapability{MimeType: "AUDIO/OPUS", ClockRate: 48000}, true, 100},
		{core.KindAudio, webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 1}, false, 0},
		{core.KindAudio, webrtc.RTPCodecCapability{MimeType: "audio/opus", ClockRate: 16000}, false, 0},
		{core.KindVideo, vp8, true, 101},
		{core.KindScreen, webrtc.RTPCodecCapability{MimeType: "video/H264", ClockRate: 90000}, true, 102},
		{core.KindVideo, vp9, false, 0},
		{core.KindVideo, opus, false, 0},
	}
	for _, tt := range tests {
		got, ok := caps.Match(tt.kind, tt.codec)
		if ok != tt.ok || got.PayloadType != tt.pt {
			t.Errorf("%s %s/%d: got %+v %v", tt.kind, tt.codec.MimeType, tt.codec.ClockRate, got, ok)
		}
	}
}
