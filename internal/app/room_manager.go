package app

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultTeardownGrace = 10 * time.Second

type RoomManagerOptions struct {
	Clock     clock.Clock
	TypingTTL time.Duration
	// Grace is how long an empty room lingers before teardown.
	Grace     time.Duration
	OnDropped core.DroppedFunc
	// OnClosed runs after a room is gone from the manager.
	OnClosed func(domain.RoomID)
	Sink     core.LifecycleSink
}

type roomEntry struct {
	room  core.RoomService
	grace clock.Timer
	gen   uint64
}

// RoomManager owns every live room. Its map lock only guards lookup,
// creation and teardown; room operations never take it.
type RoomManager struct {
	opts RoomManagerOptions

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRoomManager(opts RoomManagerOptions) *RoomManager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultTeardownGrace
	}
	return &RoomManager{opts: opts, rooms: make(map[domain.RoomID]*roomEntry)}
}

// GetOrCreate returns the room and cancels any pending teardown.
func (m *RoomManager) GetOrCreate(id domain.RoomID) core.RoomService {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.rooms[id]; ok {
		m.cancelGraceLocked(id, e)
		return e.room
	}
	room := core.NewRoomService(id, core.RoomOptions{
		Clock:     m.opts.Clock,
		TypingTTL: m.opts.TypingTTL,
		OnDropped: m.opts.OnDropped,
	})
	m.rooms[id] = &roomEntry{room: room}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room opened")
	m.publish(core.RoomOpened, id, "")
	return room
}

func (m *RoomManager) Get(id domain.RoomID) (core.RoomService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.room, nil
}

// Join adds ms to the room, creating it when needed. A join that races
// a teardown retries once on a fresh room.
func (m *RoomManager) Join(id domain.RoomID, ms core.MemberSession, requestID string) (core.RoomService, core.RoomSnapshot, error) {
	for attempt := 0; ; attempt++ {
		room := m.GetOrCreate(id)
		snap, err := room.Join(ms, requestID)
		if err == nil {
			return room, snap, nil
		}
		if !errors.Is(err, domain.ErrRoomClosed) || attempt > 0 {
			if room.MemberCount() == 0 {
				m.Release(id)
			}
			return nil, core.RoomSnapshot{}, err
		}
	}
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.Lock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, e := range m.rooms {
		rooms = append(rooms, e.room)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		out = append(out, core.RoomInfo{ID: r.ID(), MemberCount: r.MemberCount()})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Release arms teardown for a room that just became empty.
func (m *RoomManager) Release(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[id]
	if !ok {
		return
	}
	m.cancelGraceLocked(id, e)
	gen := e.gen
	e.grace = m.opts.Clock.AfterFunc(m.opts.Grace, func() { m.expire(id, e, gen) })
	log.Debug().Str("module", "app.rooms").Str("room", string(id)).Dur("grace", m.opts.Grace).Msg("room teardown armed")
}

func (m *RoomManager) cancelGraceLocked(id domain.RoomID, e *roomEntry) {
	e.gen++
	if e.grace == nil {
		return
	}
	e.grace.Stop()
	e.grace = nil
	log.Debug().Str("module", "app.rooms").Str("room", string(id)).Msg("room teardown canceled")
}

func (m *RoomManager) expire(id domain.RoomID, e *roomEntry, gen uint64) {
	m.mu.Lock()
	if m.rooms[id] != e || e.gen != gen {
		m.mu.Unlock()
		return
	}
	e.grace = nil
	if !e.room.CloseIfEmpty() {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, id)
	m.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room closed")
	if m.opts.OnClosed != nil {
		m.opts.OnClosed(id)
	}
	m.publish(core.RoomClosed, id, "")
}

func (m *RoomManager) publish(kind core.LifecycleKind, room domain.RoomID, user domain.UserID) {
	if m.opts.Sink == nil {
		return
	}
	m.opts.Sink.Publish(core.LifecycleEvent{Kind: kind, RoomID: room, UserID: user, At: m.opts.Clock.Now()})
}
