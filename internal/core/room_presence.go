package core

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/rs/zerolog/log"
)

// UpdateDeviceState applies the given flags (nil keeps the current
// value) and tells the other members.
func (r *roomImpl) UpdateDeviceState(sid SessionID, audio, video *bool) (domain.DeviceState, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return domain.DeviceState{}, err
	}
	ds := &m.participant.Device
	if audio != nil {
		ds.AudioEnabled = *audio
	}
	if video != nil {
		ds.VideoEnabled = *video
	}
	r.publishLocked(sid, proto.DeviceStateEvent{
		Type:         proto.TypeDeviceState,
		UserID:       m.participant.Identity.UserID,
		AudioEnabled: ds.AudioEnabled,
		VideoEnabled: ds.VideoEnabled,
	})
	return *ds, nil
}

// StartScreenShare grants ownership when nobody holds it. A denied
// requester alone is told who the owner is. Asking again while already
// owning is a no-op success.
func (r *roomImpl) StartScreenShare(sid SessionID, requestID string) (bool, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return false, err
	}
	uid := m.participant.Identity.UserID
	switch r.sharing {
	case uid:
		return true, nil
	case "":
		r.sharing = uid
		r.publishLocked("", proto.ScreenShareEvent{Type: proto.TypeScreenShare, State: proto.ShareStarted, UserID: uid})
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(uid)).Msg("screen share started")
		return true, nil
	default:
		r.sendLocked(m.session, proto.ScreenShareDenied{Type: proto.TypeScreenShareDenied, RequestID: requestID, UserID: r.sharing})
		return false, nil
	}
}

// StopScreenShare clears ownership only for the owner.
func (r *roomImpl) StopScreenShare(sid SessionID) (bool, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return false, err
	}
	uid := m.participant.Identity.UserID
	if r.sharing != uid {
		return false, nil
	}
	r.sharing = ""
	r.publishLocked("", proto.ScreenShareEvent{Type: proto.TypeScreenShare, State: proto.ShareStopped, UserID: uid})
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(uid)).Msg("screen share stopped")
	return true, nil
}
