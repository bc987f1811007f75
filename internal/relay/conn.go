package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/docport/chat-relay/internal/model/identity"
)

// Options tunes the per-connection websocket behavior.
type Options struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

// DefaultOptions mirror the usual gorilla pump constants.
func DefaultOptions() Options {
	return Options{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 4096,
		SendBuffer:      256,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = def.MaxMessageBytes
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	return o
}

// Conn wraps one live websocket connection. Outbound events flow through a
// buffered channel drained by WritePump so broadcasts never block on a slow
// peer.
type Conn struct {
	id    string
	ident identity.Identity
	ws    *websocket.Conn
	opts  Options

	send chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded websocket. A zero identity marks an anonymous
// (guest) connection; it may join rooms but sends are rejected.
func NewConn(ws *websocket.Conn, ident identity.Identity, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		id:    uuid.NewString(),
		ident: ident,
		ws:    ws,
		opts:  opts,
		send:  make(chan Event, opts.SendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Identity returns the authenticated identity, ok=false for guests.
func (c *Conn) Identity() (identity.Identity, bool) {
	return c.ident, !c.ident.Zero()
}

// Enqueue hands an event to the write pump without blocking. It reports
// false when the connection is gone or its buffer is full, in which case the
// caller should drop the connection.
func (c *Conn) Enqueue(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// ReadEnvelope blocks for the next inbound frame, refreshing the read
// deadline on every pong.
func (c *Conn) ReadEnvelope() (Envelope, error) {
	var env Envelope
	err := c.ws.ReadJSON(&env)
	return env, err
}

// PrepareRead applies the read limit, deadline, and pong handler. Call once
// before the read loop.
func (c *Conn) PrepareRead() {
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
}

// WritePump drains the outbound channel onto the wire and keeps the
// connection alive with pings. It exits when Close is called or a write
// fails.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// Close releases the connection; safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}
