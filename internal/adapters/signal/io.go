package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cc *client) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		cc.conn.Close()
	}()
	ws := cc.conn.conn
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(cc.sid)).Msg("writePump ctx done")
			return
		case data, ok := <-cc.conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(cc.sid)).Msg("writePump channel closed")
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cc *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Msg("readPump closing")
		cancel()
		cc.conn.Close()
		ctl.Orch.Disconnect(cc.sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Prune()
		}
		cc.handlers = nil
	}()

	ws := cc.conn.conn
	ws.SetReadLimit(ctl.settings.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	})

	// The socket is closed when ctx ends, which unblocks ReadMessage.
	stop := context.AfterFunc(ctx, cc.conn.Close)
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("readPump read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
		ctl.handleSignal(ctx, cc, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cc *client, data []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("bad json")
		ctl.sendError(cc, "", domain.ErrBadRequest, "malformed frame")
		return
	}

	h, ok := cc.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(cc, env.RequestID, domain.ErrBadRequest, "unknown message type")
		return
	}
	if ctl.Limiter != nil && env.Type != proto.TypePing && !ctl.Limiter.Allow(cc.id.UserID) {
		ctl.sendError(cc, env.RequestID, domain.ErrRateLimit, "too many messages")
		return
	}

	if err := h(ctx, cc, env, data); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Str("type", env.Type).Msg("request failed")
		ctl.sendError(cc, env.RequestID, err, err.Error())
	}
}

func (ctl *SignalWSController) sendJSON(cc *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := cc.conn.TrySend(b); errors.Is(err, core.ErrBackpressure) {
		log.Warn().Str("module", "signal").Str("sid", string(cc.sid)).Msg("direct response dropped, buffer full")
	}
}

func (ctl *SignalWSController) sendError(cc *client, requestID string, err error, msg string) {
	ctl.sendJSON(cc, proto.NewError(requestID, domain.Code(err), msg))
}

// decode unmarshals a request body, mapping failures to bad_request.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
	}
	return nil
}
