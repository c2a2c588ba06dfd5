package chat

import (
	"time"

	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/domain"
)

const DefaultTypingTTL = 3 * time.Second

// ExpireFunc is invoked from a timer goroutine when an indicator runs
// out. The receiver must take its own lock and then call Typing.Expire
// with the same arguments; a refreshed indicator makes that a no-op.
type ExpireFunc func(user domain.UserID, generation uint64)

type typingEntry struct {
	timer      clock.Timer
	generation uint64
}

// Typing tracks which users are currently typing.
type Typing struct {
	clock    clock.Clock
	ttl      time.Duration
	onExpire ExpireFunc
	entries  map[domain.UserID]*typingEntry
	next     uint64
}

func NewTyping(c clock.Clock, ttl time.Duration, onExpire ExpireFunc) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typing{
		clock:    c,
		ttl:      ttl,
		onExpire: onExpire,
		entries:  make(map[domain.UserID]*typingEntry),
	}
}

// Start marks user as typing and (re)arms the expiry. It reports true
// only when the user was not already typing, which is the only case
// worth broadcasting.
func (t *Typing) Start(user domain.UserID) bool {
	e, ok := t.entries[user]
	if ok {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.entries[user] = e
	}
	t.next++
	e.generation = t.next
	gen := e.generation
	e.timer = t.clock.AfterFunc(t.ttl, func() { t.onExpire(user, gen) })
	return !ok
}

// Stop clears the indicator and reports whether it was set.
func (t *Typing) Stop(user domain.UserID) bool {
	e, ok := t.entries[user]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, user)
	return true
}

// Expire clears the indicator if generation is still the current one.
func (t *Typing) Expire(user domain.UserID, generation uint64) bool {
	e, ok := t.entries[user]
	if !ok || e.generation != generation {
		return false
	}
	delete(t.entries, user)
	return true
}

func (t *Typing) IsTyping(user domain.UserID) bool {
	_, ok := t.entries[user]
	return ok
}

func (t *Typing) Active() []domain.UserID {
	out := make([]domain.UserID, 0, len(t.entries))
	for u := range t.entries {
		out = append(out, u)
	}
	return out
}

// Reset stops every pending timer.
func (t *Typing) Reset() {
	for u, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, u)
	}
}
