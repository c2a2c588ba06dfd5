package core_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/clock"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// all decodes every received frame of type typ into T.
func all[T any](t *testing.T, c *fakeConn, typ string) []T {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		if env.Type != typ {
			continue
		}
		var v T
		if err := json.Unmarshal(f, &v); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		out = append(out, v)
	}
	return out
}

func last[T any](t *testing.T, c *fakeConn, typ string) T {
	t.Helper()
	got := all[T](t, c, typ)
	if len(got) == 0 {
		t.Fatalf("no %q frame received", typ)
	}
	return got[len(got)-1]
}

type peer struct {
	sid  core.SessionID
	user domain.UserID
	conn *fakeConn
	ms   core.MemberSession
}

func newPeer(t *testing.T, user, sid string) *peer {
	t.Helper()
	id, err := domain.NewIdentity(user, user+"@example.com")
	if err != nil {
		t.Fatal(err)
	}
	conn := &fakeConn{}
	return &peer{
		sid:  core.SessionID(sid),
		user: id.UserID,
		conn: conn,
		ms:   core.NewMemberSession(core.SessionID(sid), id, conn),
	}
}

func newRoom(t *testing.T) (core.RoomService, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	return core.NewRoomService("r1", core.RoomOptions{Clock: fc}), fc
}

func join(t *testing.T, room core.RoomService, p *peer) core.RoomSnapshot {
	t.Helper()
	snap, err := room.Join(p.ms, "")
	if err != nil {
		t.Fatalf("join %s: %v", p.user, err)
	}
	return snap
}

func userIDs(ids []domain.Identity) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.UserID)
	}
	return out
}
