// Package client is the participant side of the signaling socket: it
// dials, joins, keeps the link alive and reconnects on failure.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var ErrNotConnected = errors.New("client: not connected")

type Options struct {
	// URL is the signaling endpoint, e.g. ws://host:8080/api/ws/signal.
	URL     string
	Room    domain.RoomID
	Token   string
	Backoff Backoff
	Dialer  *websocket.Dialer

	// OnEvent receives every server frame, in order, on the read goroutine.
	OnEvent func(env proto.Envelope, raw []byte)
	// OnConnected runs after each successful (re)connect.
	OnConnected func()
	// OnGiveUp runs once when the client stops for good.
	OnGiveUp func(err error)
}

type Client struct {
	opts    Options
	backoff *Backoff

	mu       sync.Mutex
	outgoing chan []byte
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	b := opts.Backoff
	return &Client{opts: opts, backoff: &b}
}

// Run connects and stays connected until ctx ends, the server refuses
// the token, or the retry budget runs out.
func (c *Client) Run(ctx context.Context) error {
	logger := log.With().Str("module", "client").Str("room", string(c.opts.Room)).Logger()
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.backoff.Reset()
			logger.Info().Msg("connected")
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrAuth) {
			return c.giveUp(err)
		}

		delay, berr := c.backoff.Next()
		if berr != nil {
			logger.Warn().Err(err).Int("attempts", c.backoff.Attempts()).Msg("giving up")
			return c.giveUp(berr)
		}
		logger.Info().Err(err).Int("attempt", c.backoff.Attempts()).Dur("delay", delay).Msg("reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) giveUp(err error) error {
	if c.opts.OnGiveUp != nil {
		c.opts.OnGiveUp(err)
	}
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("room", string(c.opts.Room))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: server refused token", domain.ErrAuth)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// serve runs the pumps for one connection and returns when it drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	out := make(chan []byte, 64)
	c.mu.Lock()
	c.outgoing = out
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.outgoing = nil
		c.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump(connCtx, conn, out)

	if err := c.Send(proto.Envelope{Type: proto.TypeReady}); err != nil {
		conn.Close()
		return err
	}
	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}

	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()
	return c.readPump(conn)
}

func (c *Client) readPump(conn *websocket.Conn) error {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var env proto.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame from server")
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(env, data)
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues v for the current connection without blocking.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outgoing == nil {
		return ErrNotConnected
	}
	select {
	case c.outgoing <- data:
		return nil
	default:
		return fmt.Errorf("client: send buffer full")
	}
}
