package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send buffer overflowed.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// KickPolicy drops a slow member on the first overflow.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// StrikePolicy tolerates Limit-1 overflows per session before kicking.
type StrikePolicy struct {
	Limit int

	mu      sync.Mutex
	strikes map[core.SessionID]int
}

func NewStrikePolicy(limit int) *StrikePolicy {
	return &StrikePolicy{Limit: limit, strikes: make(map[core.SessionID]int)}
}

func (p *StrikePolicy) OnBackPressure(_ core.RoomService, member core.MemberSession) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[member.SID()]++
	if p.strikes[member.SID()] < p.Limit {
		return NoAction
	}
	delete(p.strikes, member.SID())
	return KickMember
}

// Forget clears the strike count of a session that went away.
func (p *StrikePolicy) Forget(sid core.SessionID) {
	p.mu.Lock()
	delete(p.strikes, sid)
	p.mu.Unlock()
}
