package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewfead/autocoder/internal/clock"
	"github.com/drewfead/autocoder/internal/config"
	"github.com/drewfead/autocoder/internal/logging"
)

// ErrStreamEnded is reported when the server closes the stream normally.
var ErrStreamEnded = errors.New("event stream ended")

// ConnState is the subscription's connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateChange describes a connection state transition.
type StateChange struct {
	Project string
	State   ConnState
	Attempt int           // consecutive failures so far
	Delay   time.Duration // wait before the next dial, when disconnected
	Err     error         // why the connection dropped; ErrStreamEnded for a normal close
}

// Handler receives stream output. Calls are made from the subscription
// goroutine, one at a time, in arrival order.
type Handler interface {
	OnEvent(Event)
	OnState(StateChange)
}

// Endpoint resolves stream URLs and dial headers.
type Endpoint interface {
	StreamURL(project string) string
	AuthHeader() (http.Header, error)
}

// Channel dials project event streams and keeps them alive.
type Channel struct {
	endpoint     Endpoint
	dialer       *websocket.Dialer
	backoff      config.BackoffConfig
	pingInterval time.Duration
	clock        clock.Clock
	log          *slog.Logger
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithClock replaces the clock used for backoff waits and keepalive pings.
func WithClock(c clock.Clock) ChannelOption {
	return func(ch *Channel) { ch.clock = c }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(ch *Channel) { ch.dialer = d }
}

// NewChannel creates a channel for the given endpoint.
func NewChannel(endpoint Endpoint, cfg config.LiveConfig, opts ...ChannelOption) *Channel {
	ch := &Channel{
		endpoint:     endpoint,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:      cfg.Backoff,
		pingInterval: cfg.PingInterval,
		clock:        clock.Real(),
		log:          logging.Component("live"),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Subscribe streams events for project into h until ctx is cancelled,
// reconnecting with backoff. Each connection is a fresh sequence; nothing is
// replayed across reconnects. Once ctx is done no further calls are made on h.
func (c *Channel) Subscribe(ctx context.Context, project string, h Handler) {
	retry := NewRetry(c.backoff)
	defer retry.Reset()

	for {
		retry.Connecting()
		h.OnState(StateChange{Project: project, State: Connecting, Attempt: retry.Attempt()})

		conn, err := c.dial(ctx, project)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err == nil {
			retry.Connected()
			h.OnState(StateChange{Project: project, State: Connected})
			c.log.Info("event stream connected", "project", project)
			err = c.stream(ctx, conn, project, h)
			if ctx.Err() != nil {
				return
			}
		}

		delay := retry.Failed()
		if errors.Is(err, ErrStreamEnded) {
			c.log.Info("event stream ended", "project", project, "retry_in", delay)
		} else {
			c.log.Warn("event stream lost", "project", project, "error", err, "attempt", retry.Attempt(), "retry_in", delay)
		}
		h.OnState(StateChange{Project: project, State: Disconnected, Attempt: retry.Attempt(), Delay: delay, Err: err})

		if !c.wait(ctx, delay) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context, project string) (*websocket.Conn, error) {
	header, err := c.endpoint.AuthHeader()
	if err != nil {
		return nil, fmt.Errorf("stream auth: %w", err)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint.StreamURL(project), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

// wait blocks for d on the channel's clock. It returns false if ctx ended first.
func (c *Channel) wait(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	timer := c.clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	}
}

// stream reads messages until the connection fails or ctx ends.
func (c *Channel) stream(ctx context.Context, conn *websocket.Conn, project string, h Handler) error {
	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		conn.Close()
		wg.Wait()
	}()

	// Closing the conn is the only way to unblock ReadMessage.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		conn.Close()
	}()

	if c.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pingLoop(connCtx, conn)
		}()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamEnded
			}
			return err
		}
		// Drop anything read after teardown began.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, ok, err := Decode(project, data, c.clock.Now())
		if err != nil {
			c.log.Warn("dropping malformed stream message", "project", project, "error", err)
			continue
		}
		if !ok {
			c.log.Debug("stream message without state", "project", project, "bytes", len(data))
			continue
		}
		h.OnEvent(ev)
	}
}

const pingWriteTimeout = 10 * time.Second

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	for c.wait(ctx, c.pingInterval) {
		// Socket deadlines are wall-clock whatever the channel's clock is.
		conn.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, pingMessage); err != nil {
			c.log.Debug("stream ping failed", "error", err)
			return
		}
	}
}
