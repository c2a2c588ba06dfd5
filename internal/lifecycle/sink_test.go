package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/redis/go-redis/v9"
)

type call struct {
	op   string
	key  string
	data string
}

type fakeRedis struct {
	calls   []call
	failPub bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.calls = append(f.calls, call{op: "publish", key: channel, data: string(message.([]byte))})
	cmd := redis.NewIntCmd(ctx)
	if f.failPub {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.calls = append(f.calls, call{op: "sadd", key: key, data: members[0].(string)})
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.calls = append(f.calls, call{op: "srem", key: key, data: members[0].(string)})
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func runToCompletion(s *RedisSink) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)
}

func TestRedisSinkMirrorsRoomsAndPublishes(t *testing.T) {
	rdb := &fakeRedis{}
	s := NewRedisSink(rdb, "events", 8)

	s.Publish(core.LifecycleEvent{Kind: core.RoomOpened, RoomID: "r1", At: at})
	s.Publish(core.LifecycleEvent{Kind: core.ParticipantJoined, RoomID: "r1", UserID: "alice", At: at})
	s.Publish(core.LifecycleEvent{Kind: core.RoomClosed, RoomID: "r1", At: at})
	runToCompletion(s)

	wantOps := []string{"sadd", "publish", "publish", "srem", "publish"}
	if len(rdb.calls) != len(wantOps) {
		t.Fatalf("calls = %+v", rdb.calls)
	}
	for i, op := range wantOps {
		if rdb.calls[i].op != op {
			t.Fatalf("call %d = %s, want %s", i, rdb.calls[i].op, op)
		}
	}
	if rdb.calls[0].key != RoomsKey || rdb.calls[0].data != "r1" {
		t.Fatalf("sadd = %+v", rdb.calls[0])
	}

	var ev core.LifecycleEvent
	if err := json.Unmarshal([]byte(rdb.calls[2].data), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != core.ParticipantJoined || ev.UserID != "alice" || rdb.calls[2].key != "events" {
		t.Fatalf("published %+v on %s", ev, rdb.calls[2].key)
	}
}

func TestRedisSinkDropsWhenFull(t *testing.T) {
	s := NewRedisSink(&fakeRedis{}, "events", 1)
	s.Publish(core.LifecycleEvent{Kind: core.RoomOpened, RoomID: "r1"})
	s.Publish(core.LifecycleEvent{Kind: core.RoomOpened, RoomID: "r2"})
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}
}

func TestRedisSinkSurvivesPublishErrors(t *testing.T) {
	rdb := &fakeRedis{failPub: true}
	s := NewRedisSink(rdb, "events", 4)
	s.Publish(core.LifecycleEvent{Kind: core.ParticipantLeft, RoomID: "r1", UserID: "bob"})
	s.Publish(core.LifecycleEvent{Kind: core.ParticipantLeft, RoomID: "r1", UserID: "carol"})
	runToCompletion(s)
	if len(rdb.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(rdb.calls))
	}
}
