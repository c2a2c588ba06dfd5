// Package orch wires a signaling connection into rooms, media and the
// lifecycle feed. Adapters talk to the Orchestrator only.
package orch

import (
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Clock         clock.Clock
	TypingTTL     time.Duration
	TeardownGrace time.Duration
	Policy        app.Policy
	Sink          core.LifecycleSink
	// Engine may be nil, in which case media requests fail with a
	// resource error and the rest of the room works as usual.
	Engine core.MediaEngine
	Media  sfu.Options
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
	Media    *sfu.Manager
	Sink     core.LifecycleSink
	clock    clock.Clock
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Policy == nil {
		opts.Policy = app.KickPolicy{}
	}
	o := &Orchestrator{
		Registry: app.NewRegistry(),
		Policy:   opts.Policy,
		Sink:     opts.Sink,
		clock:    opts.Clock,
	}
	if opts.Engine != nil {
		mo := opts.Media
		if mo.Clock == nil {
			mo.Clock = opts.Clock
		}
		mo.OnEvent = o.onMediaEvent
		o.Media = sfu.NewManager(opts.Engine, mo)
	}
	o.Rooms = app.NewRoomManager(app.RoomManagerOptions{
		Clock:     opts.Clock,
		TypingTTL: opts.TypingTTL,
		Grace:     opts.TeardownGrace,
		OnDropped: o.onDropped,
		OnClosed:  o.onRoomClosed,
		Sink:      opts.Sink,
	})
	return o
}

// onDropped applies the backpressure policy to a member whose buffer
// was full.
func (o *Orchestrator) onDropped(room core.RoomService, slow core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, slow) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("room", string(room.ID())).Str("sid", string(slow.SID())).Msg("kicking slow member")
		o.Kick(slow.SID())
	case app.NoAction:
	}
}

func (o *Orchestrator) onRoomClosed(id domain.RoomID) {
	if o.Media != nil {
		o.Media.CloseRoom(id)
	}
}

func (o *Orchestrator) publish(kind core.LifecycleKind, room domain.RoomID, user domain.UserID) {
	if o.Sink == nil {
		return
	}
	o.Sink.Publish(core.LifecycleEvent{Kind: kind, RoomID: room, UserID: user, At: o.clock.Now()})
}

// Shutdown releases every media graph.
func (o *Orchestrator) Shutdown() {
	if o.Media != nil {
		o.Media.Close()
	}
}
