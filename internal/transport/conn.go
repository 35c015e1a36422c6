// Package transport owns the realtime connection to the coach server:
// ticket exchange, reconnect with exponential backoff, and keepalive.
//
// Conn methods must be called on the event loop. Socket I/O runs on
// goroutines and every completion is posted back to the loop, tagged with
// the connection generation it belongs to; completions from an older
// generation are discarded.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventloop"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/protocol"
)

// ErrNotConnected is returned by Send when no socket is open.
var ErrNotConnected = errors.New("not connected")

// Close codes the server uses for rejected sessions. Neither is retried.
const (
	CloseInvalidToken = 4001
	CloseAccessDenied = 4003
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Options tunes a Conn.
type Options struct {
	Endpoint          string // ws(s) URL without query
	KeepaliveInterval time.Duration
	DeadAfter         time.Duration // read deadline; 0 disables
	BaseDelay         time.Duration
	MaxDelay          time.Duration // 0 = uncapped
	MaxAttempts       int
	HandshakeTimeout  time.Duration
}

// Conn is the single realtime connection of a session.
type Conn struct {
	sched     eventloop.Scheduler
	dialer    Dialer
	tickets   TicketSource
	lifecycle *session.Lifecycle
	bus       *eventbus.EventBus
	onFrame   func([]byte)
	onStatus  func(session.Connection)
	opts      Options
	log       zerolog.Logger

	conn       session.Connection
	attempts   int
	generation uint64
	sock       Socket
	out        chan []byte
	cancelDial context.CancelFunc
	keepalive  *eventloop.Timer
	reconnect  *eventloop.Timer
}

// Deps are the collaborators of a Conn.
type Deps struct {
	Scheduler eventloop.Scheduler
	Dialer    Dialer
	Tickets   TicketSource
	Lifecycle *session.Lifecycle
	Bus       *eventbus.EventBus
	// OnFrame receives every inbound text frame on the loop.
	OnFrame func([]byte)
	// OnStatus receives every status transition on the loop, before it is
	// published on the bus.
	OnStatus func(session.Connection)
	Logger   zerolog.Logger
}

// New creates a disconnected Conn.
func New(deps Deps, opts Options) *Conn {
	if deps.Lifecycle == nil {
		deps.Lifecycle = session.NewLifecycle()
	}
	if deps.OnFrame == nil {
		deps.OnFrame = func([]byte) {}
	}
	if deps.OnStatus == nil {
		deps.OnStatus = func(session.Connection) {}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Conn{
		sched:     deps.Scheduler,
		dialer:    deps.Dialer,
		tickets:   deps.Tickets,
		lifecycle: deps.Lifecycle,
		bus:       deps.Bus,
		onFrame:   deps.OnFrame,
		onStatus:  deps.OnStatus,
		opts:      opts,
		log:       deps.Logger,
		conn:      session.Connection{Status: session.StatusDisconnected},
	}
}

// Status returns the current connection status.
func (c *Conn) Status() session.Status { return c.conn.Status }

// Connection returns the last published status transition.
func (c *Conn) Connection() session.Connection { return c.conn }

// Attempts returns the number of automatic reconnects since the last open.
func (c *Conn) Attempts() int { return c.attempts }

// Connect opens the socket. It is a no-op while connecting or connected.
// A fresh ticket is fetched for every attempt.
func (c *Conn) Connect() {
	if c.conn.Status != session.StatusDisconnected {
		return
	}
	c.reconnect.Stop()
	c.reconnect = nil

	c.generation++
	gen := c.generation
	isLogin := c.lifecycle.Peek()

	ctx, cancel := c.dialContext()
	c.cancelDial = cancel

	c.setStatus(session.Connection{Status: session.StatusConnecting, Attempt: c.attempts})
	c.log.Debug().Int("attempt", c.attempts).Bool("is_login", isLogin).Msg("connecting")

	tickets, dialer, endpoint := c.tickets, c.dialer, c.opts.Endpoint
	eventloop.Go(c.sched, func() (Socket, error) {
		defer cancel()
		ticket, err := tickets.IssueTicket(ctx)
		if err != nil {
			return nil, fmt.Errorf("issue ticket: %w", err)
		}
		target, err := withTicket(endpoint, ticket, isLogin)
		if err != nil {
			return nil, err
		}
		return dialer.Dial(ctx, target)
	}, func(sock Socket, err error) {
		if gen != c.generation {
			if sock != nil {
				_ = sock.Close()
			}
			return
		}
		c.cancelDial = nil
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", c.attempts).Msg("connect failed")
			c.scheduleReconnect(err.Error(), false)
			return
		}
		c.opened(gen, sock)
	})
}

// Retry clears the attempt counter and connects. Used after the automatic
// attempts are exhausted or a terminal close.
func (c *Conn) Retry() {
	c.attempts = 0
	c.Connect()
}

// Disconnect closes the socket and suppresses automatic reconnects until
// Connect or Retry is called. Outstanding dials and timers are abandoned.
func (c *Conn) Disconnect() {
	c.attempts = c.opts.MaxAttempts + 1
	c.generation++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.reconnect.Stop()
	c.reconnect = nil
	c.teardown()

	if c.conn.Status != session.StatusDisconnected || !c.conn.Terminal {
		c.setStatus(session.Connection{Status: session.StatusDisconnected, Attempt: c.attempts, Terminal: true, Requested: true})
	}
}

// Send queues an outbound frame. Frames are written in order by the
// socket's writer goroutine.
func (c *Conn) Send(f protocol.Outbound) error {
	if c.conn.Status != session.StatusConnected || c.out == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	default:
		return fmt.Errorf("send %s: buffer full", f.OutboundKind())
	}
}

func (c *Conn) opened(gen uint64, sock Socket) {
	c.sock = sock
	c.out = make(chan []byte, sendBuffer)
	c.attempts = 0
	c.lifecycle.MarkConnected()

	go c.readLoop(gen, sock)
	go c.writeLoop(gen, sock, c.out)

	c.armKeepalive(gen)
	c.setStatus(session.Connection{Status: session.StatusConnected})
	c.log.Info().Msg("connected")
}

func (c *Conn) readLoop(gen uint64, sock Socket) {
	sched, deadAfter := c.sched, c.opts.DeadAfter
	for {
		if deadAfter > 0 {
			_ = sock.SetReadDeadline(time.Now().Add(deadAfter))
		}
		kind, data, err := sock.ReadMessage()
		if err != nil {
			sched.Post(func() { c.dropped(gen, err) })
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sched.Post(func() {
			if gen == c.generation {
				c.onFrame(data)
			}
		})
	}
}

func (c *Conn) writeLoop(gen uint64, sock Socket, out <-chan []byte) {
	sched := c.sched
	for data := range out {
		_ = sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
			sched.Post(func() { c.dropped(gen, fmt.Errorf("write: %w", err)) })
			return
		}
	}
}

func (c *Conn) armKeepalive(gen uint64) {
	if c.opts.KeepaliveInterval <= 0 {
		return
	}
	c.keepalive = c.sched.AfterFunc(c.opts.KeepaliveInterval, func() {
		if gen != c.generation {
			return
		}
		if err := c.Send(protocol.PingFrame{}); err != nil {
			c.log.Debug().Err(err).Msg("keepalive ping not sent")
		}
		c.armKeepalive(gen)
	})
}

func (c *Conn) dropped(gen uint64, err error) {
	if gen != c.generation {
		return
	}
	c.generation++
	c.teardown()

	cause, terminal := describeClose(err)
	c.log.Warn().Err(err).Bool("terminal", terminal).Msg("connection lost")
	c.scheduleReconnect(cause, terminal)
}

func (c *Conn) teardown() {
	c.keepalive.Stop()
	c.keepalive = nil
	if c.out != nil {
		close(c.out)
		c.out = nil
	}
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
}

func (c *Conn) dialContext() (context.Context, context.CancelFunc) {
	if c.opts.HandshakeTimeout > 0 {
		return context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	}
	return context.WithCancel(context.Background())
}

// scheduleReconnect publishes the disconnect and arms the backoff timer,
// unless the failure is terminal or the attempts are exhausted.
func (c *Conn) scheduleReconnect(cause string, terminal bool) {
	if terminal || c.attempts >= c.opts.MaxAttempts {
		c.setStatus(session.Connection{Status: session.StatusDisconnected, Attempt: c.attempts, Cause: cause, Terminal: true})
		return
	}

	delay := Backoff(c.opts.BaseDelay, c.opts.MaxDelay, c.attempts)
	c.attempts++
	c.setStatus(session.Connection{Status: session.StatusDisconnected, Attempt: c.attempts, Cause: cause})
	c.log.Debug().Dur("delay", delay).Int("attempt", c.attempts).Msg("reconnect scheduled")
	c.reconnect = c.sched.AfterFunc(delay, func() {
		c.reconnect = nil
		c.Connect()
	})
}

func (c *Conn) setStatus(conn session.Connection) {
	if conn == c.conn {
		return
	}
	c.conn = conn
	c.onStatus(conn)
	c.bus.PublishConnectionStatusChanged(eventbus.ConnectionStatusChangedPayload{Connection: conn})
}

func describeClose(err error) (cause string, terminal bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case CloseInvalidToken:
			return "authentication rejected", true
		case CloseAccessDenied:
			if ce.Text != "" {
				return ce.Text, true
			}
			return "chat access denied", true
		}
		if ce.Text != "" {
			return ce.Text, false
		}
		return fmt.Sprintf("closed with code %d", ce.Code), false
	}
	return err.Error(), false
}
