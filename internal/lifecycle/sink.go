// Package lifecycle ships room lifecycle events out of the process.
package lifecycle

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RoomsKey is the Redis set holding the ids of live rooms.
const RoomsKey = "huddle:rooms"

// redisClient is the subset of *redis.Client the sink uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
}

// RedisSink publishes every event as JSON on a channel and mirrors the
// set of open rooms. Publish only enqueues; Run does the network work.
type RedisSink struct {
	client  redisClient
	channel string
	events  chan core.LifecycleEvent
	dropped atomic.Int64
}

var _ core.LifecycleSink = (*RedisSink)(nil)

func NewRedisSink(client redisClient, channel string, buffer int) *RedisSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		events:  make(chan core.LifecycleEvent, buffer),
	}
}

// Publish drops the event when the queue is full.
func (s *RedisSink) Publish(ev core.LifecycleEvent) {
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		log.Warn().Str("module", "lifecycle").Str("kind", string(ev.Kind)).Int64("dropped", n).Msg("lifecycle queue full, event dropped")
	}
}

func (s *RedisSink) Dropped() int64 { return s.dropped.Load() }

// Run ships queued events until ctx is done, then flushes what is
// already queued.
func (s *RedisSink) Run(ctx context.Context) {
	log.Info().Str("module", "lifecycle").Str("channel", s.channel).Msg("lifecycle sink running")
	for {
		select {
		case ev := <-s.events:
			s.ship(ctx, ev)
		case <-ctx.Done():
			flushCtx := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-s.events:
					s.ship(flushCtx, ev)
				default:
					log.Info().Str("module", "lifecycle").Msg("lifecycle sink stopped")
					return
				}
			}
		}
	}
}

func (s *RedisSink) ship(ctx context.Context, ev core.LifecycleEvent) {
	logger := log.With().Str("module", "lifecycle").Str("kind", string(ev.Kind)).Str("room", string(ev.RoomID)).Logger()

	switch ev.Kind {
	case core.RoomOpened:
		if err := s.client.SAdd(ctx, RoomsKey, string(ev.RoomID)).Err(); err != nil {
			logger.Error().Err(err).Msg("failed to record open room")
		}
	case core.RoomClosed:
		if err := s.client.SRem(ctx, RoomsKey, string(ev.RoomID)).Err(); err != nil {
			logger.Error().Err(err).Msg("failed to clear closed room")
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode lifecycle event")
		return
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		logger.Error().Err(err).Msg("failed to publish lifecycle event")
	}
}

// LogSink is used when no Redis is configured.
type LogSink struct{}

func (LogSink) Publish(ev core.LifecycleEvent) {
	log.Debug().Str("module", "lifecycle").Str("kind", string(ev.Kind)).Str("room", string(ev.RoomID)).Str("user", string(ev.UserID)).Msg("lifecycle event")
}
