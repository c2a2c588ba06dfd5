package core

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/chat"
	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/collab"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

// DroppedFunc receives members whose send buffer was full. It is called
// after the room lock is released, so it may call back into the room.
type DroppedFunc func(room RoomService, ms MemberSession)

type RoomOptions struct {
	Clock     clock.Clock
	TypingTTL time.Duration
	OnDropped DroppedFunc
}

type member struct {
	session     MemberSession
	participant *domain.Participant
}

// roomImpl is a threadsafe in-memory room.
// One mutex serializes membership, presence, collaboration and chat, so
// every member observes room events in the same order.
type roomImpl struct {
	id        domain.RoomID
	clock     clock.Clock
	onDropped DroppedFunc

	mu      sync.Mutex
	bySID   map[SessionID]*member
	byUser  map[domain.UserID]*member
	order   []domain.UserID
	sharing domain.UserID
	collab  *collab.State
	chat    chat.Log
	typing  *chat.Typing
	closed  bool
	dropped []MemberSession
}

func NewRoomService(id domain.RoomID, opts RoomOptions) RoomService {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	r := &roomImpl{
		id:        id,
		clock:     opts.Clock,
		onDropped: opts.OnDropped,
		bySID:     make(map[SessionID]*member),
		byUser:    make(map[domain.UserID]*member),
		collab:    collab.NewState(),
	}
	r.typing = chat.NewTyping(opts.Clock, opts.TypingTTL, r.expireTyping)
	return r
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *roomImpl) IsMember(user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[user]
	return ok
}

func (r *roomImpl) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *roomImpl) Join(ms MemberSession, requestID string) (RoomSnapshot, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return RoomSnapshot{}, domain.ErrRoomClosed
	}
	id := ms.Identity()
	var stale MemberSession
	if m, ok := r.byUser[id.UserID]; ok {
		if m.session.SID() != ms.SID() {
			stale = m.session
			delete(r.bySID, stale.SID())
			m.session = ms
			m.participant.Identity = id
			r.bySID[ms.SID()] = m
		}
	} else {
		m := &member{session: ms, participant: domain.NewParticipant(id)}
		r.bySID[ms.SID()] = m
		r.byUser[id.UserID] = m
		r.order = append(r.order, id.UserID)
	}
	r.publishRoomDataLocked()
	r.sendStateLocked(ms, requestID)
	snap := r.snapshotLocked()
	r.unlockAndReport()

	logger := log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("sid", string(ms.SID())).Str("user", string(id.UserID))
	if stale != nil {
		stale.Signal().Close()
		logger.Str("replaced_sid", string(stale.SID())).Msg("member rejoined")
	} else {
		logger.Msg("member joined")
	}
	return snap, nil
}

func (r *roomImpl) Resync(sid SessionID, requestID string) error {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return err
	}
	r.sendStateLocked(m.session, requestID)
	return nil
}

func (r *roomImpl) Leave(sid SessionID) LeaveResult {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, ok := r.bySID[sid]
	if !ok {
		log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Msg("leave ignored, not current session")
		return LeaveResult{Empty: len(r.order) == 0}
	}
	uid := m.participant.Identity.UserID
	delete(r.bySID, sid)
	delete(r.byUser, uid)
	r.order = slices.DeleteFunc(r.order, func(u domain.UserID) bool { return u == uid })

	if r.typing.Stop(uid) {
		r.publishLocked("", proto.TypingEvent{Type: proto.TypeTyping, UserID: uid, IsTyping: false})
	}
	if r.sharing == uid {
		r.sharing = ""
		r.publishLocked("", proto.ScreenShareEvent{Type: proto.TypeScreenShare, State: proto.ShareStopped, UserID: uid})
	}
	r.publishRoomDataLocked()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(uid)).Int("remaining", len(r.order)).Msg("member left")
	return LeaveResult{Left: true, Empty: len(r.order) == 0, User: m.participant.Identity}
}

func (r *roomImpl) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) > 0 {
		return false
	}
	r.closed = true
	r.typing.Reset()
	return true
}

func (r *roomImpl) Broadcast(from SessionID, v any) PublishResult {
	r.mu.Lock()
	defer r.unlockAndReport()
	return r.publishLocked(from, v)
}

func (r *roomImpl) SendTo(user domain.UserID, v any) bool {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, ok := r.byUser[user]
	if !ok {
		return false
	}
	return r.sendLocked(m.session, v)
}

// memberLocked resolves sid to a current member.
func (r *roomImpl) memberLocked(sid SessionID) (*member, error) {
	m, ok := r.bySID[sid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (r *roomImpl) now() int64 { return r.clock.Now().UnixMilli() }

func (r *roomImpl) snapshotLocked() RoomSnapshot {
	mode, _ := r.collab.Mode()
	return RoomSnapshot{
		RoomID:       r.id,
		Participants: r.identitiesLocked(),
		SharingUser:  r.sharing,
		Mode:         mode,
	}
}

func (r *roomImpl) identitiesLocked() []domain.Identity {
	out := make([]domain.Identity, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, r.byUser[u].participant.Identity)
	}
	return out
}

func (r *roomImpl) publishRoomDataLocked() {
	r.publishLocked("", proto.RoomData{
		Type:         proto.TypeRoomData,
		RoomID:       r.id,
		Participants: r.identitiesLocked(),
	})
}

// sendStateLocked gives a joiner everything it missed.
func (r *roomImpl) sendStateLocked(ms MemberSession, requestID string) {
	parts := make([]proto.ParticipantState, 0, len(r.order))
	for _, u := range r.order {
		p := r.byUser[u].participant
		parts = append(parts, proto.ParticipantState{Identity: p.Identity, DeviceState: p.Device})
	}
	typing := r.typing.Active()
	slices.Sort(typing)
	r.sendLocked(ms, proto.RoomState{
		Type:          proto.TypeRoomState,
		RequestID:     requestID,
		RoomID:        r.id,
		Self:          ms.Identity(),
		Participants:  parts,
		SharingUser:   r.sharing,
		Collaboration: r.collab.Snapshot(),
		Chat:          r.chat.Messages(),
		Typing:        typing,
	})
}

// publishLocked marshals v once and fans it out in join order.
func (r *roomImpl) publishLocked(except SessionID, v any) PublishResult {
	res := PublishResult{}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("broadcast marshal")
		return res
	}
	for _, u := range r.order {
		m := r.byUser[u]
		if m.session.SID() == except {
			continue
		}
		if err := m.session.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m.session)
			if errors.Is(err, ErrBackpressure) {
				r.dropped = append(r.dropped, m.session)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(except)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) sendLocked(ms MemberSession, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("send marshal")
		return false
	}
	if err := ms.Signal().TrySend(data); err != nil {
		if errors.Is(err, ErrBackpressure) {
			r.dropped = append(r.dropped, ms)
		}
		return false
	}
	return true
}

func (r *roomImpl) unlockAndReport() {
	dropped := r.dropped
	r.dropped = nil
	r.mu.Unlock()
	if r.onDropped == nil {
		return
	}
	for _, ms := range dropped {
		r.onDropped(r, ms)
	}
}
