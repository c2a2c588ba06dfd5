package core

import "github.com/dkeye/Huddle/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	sid  SessionID
	id   domain.Identity
	conn SignalConnection
}

func NewMemberSession(sid SessionID, id domain.Identity, conn SignalConnection) MemberSession {
	return &memberSession{sid: sid, id: id, conn: conn}
}

func (m *memberSession) SID() SessionID            { return m.sid }
func (m *memberSession) Identity() domain.Identity { return m.id }
func (m *memberSession) Signal() SignalConnection  { return m.conn }
