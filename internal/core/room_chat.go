package core

import (
	"github.com/dkeye/Huddle/internal/chat"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
)

// SendChat appends to the log and echoes to everyone, sender included,
// so the sender learns the assigned id and timestamp.
func (r *roomImpl) SendChat(sid SessionID, text string, kind chat.Kind) (chat.Message, error) {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return chat.Message{}, err
	}
	msg, err := chat.NewMessage(m.participant.Identity, text, kind, r.now())
	if err != nil {
		return chat.Message{}, err
	}
	r.chat.Append(msg)
	r.publishLocked("", proto.ChatMessageEvent{Type: proto.TypeChatMessage, Message: msg})
	return msg, nil
}

func (r *roomImpl) StartTyping(sid SessionID) error {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return err
	}
	uid := m.participant.Identity.UserID
	if r.typing.Start(uid) {
		r.publishLocked(sid, proto.TypingEvent{Type: proto.TypeTyping, UserID: uid, IsTyping: true})
	}
	return nil
}

func (r *roomImpl) StopTyping(sid SessionID) error {
	r.mu.Lock()
	defer r.unlockAndReport()
	m, err := r.memberLocked(sid)
	if err != nil {
		return err
	}
	uid := m.participant.Identity.UserID
	if r.typing.Stop(uid) {
		r.publishLocked(sid, proto.TypingEvent{Type: proto.TypeTyping, UserID: uid, IsTyping: false})
	}
	return nil
}

// expireTyping runs on the typing timer.
func (r *roomImpl) expireTyping(user domain.UserID, generation uint64) {
	r.mu.Lock()
	defer r.unlockAndReport()
	if !r.typing.Expire(user, generation) {
		return
	}
	except := SessionID("")
	if m, ok := r.byUser[user]; ok {
		except = m.session.SID()
	}
	r.publishLocked(except, proto.TypingEvent{Type: proto.TypeTyping, UserID: user, IsTyping: false})
}
