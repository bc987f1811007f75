// Package chatclient is a Go client for the relay's websocket protocol. It
// implements the optimistic-send contract: a sent message is rendered locally
// before the server acknowledges it, replaced (never duplicated) by the
// authoritative echo, and rolled back when the send is rejected.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/docport/chat-relay/pkg/optimistic"
)

// Message is the client-local view of one message. Pending marks an
// optimistic copy that has no persisted identity yet.
type Message struct {
	ID             string    `json:"_id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversation"`
	SenderID       string    `json:"senderId"`
	SenderRole     string    `json:"senderRole"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	Pending        bool      `json:"-"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type ack struct {
	Success  bool     `json:"success"`
	Message  *Message `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`
	ClientID string   `json:"clientId,omitempty"`
}

type deletion struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type typing struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// Events are optional callbacks for server pushes beyond plain messages.
// They run on the read loop goroutine.
type Events struct {
	OnMessageDeleted      func(messageID, conversationID string)
	OnConversationDeleted func(conversationID string)
	OnTyping              func(conversationID, senderID string)
}

// Options configures a client.
type Options struct {
	// SelfID is the authenticated identity id; used by the fallback
	// reconciliation heuristic.
	SelfID string
	// Reconcile tunes optimistic matching.
	Reconcile optimistic.Config
	// AckTimeout bounds how long Send waits for its acknowledgement.
	AckTimeout time.Duration
	// Events receives server pushes.
	Events Events
}

// Client is one live relay connection with optimistic local message state.
type Client struct {
	ws   *websocket.Conn
	opts Options
	rec  *optimistic.Reconciler

	writeMu sync.Mutex

	mu       sync.Mutex
	messages map[string][]Message
	active   string
	acks     map[string]chan ack

	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects to the relay. URL is the ws:// endpoint including any token
// query parameters.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		ws:       ws,
		opts:     opts,
		rec:      optimistic.New(opts.Reconcile),
		messages: make(map[string][]Message),
		acks:     make(map[string]chan ack),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Join subscribes to a conversation's events and makes it the active one.
func (c *Client) Join(conversationID string) error {
	c.mu.Lock()
	c.active = conversationID
	c.mu.Unlock()

	return c.write(outEnvelope{
		Event: "chat:join",
		Data:  map[string]string{"conversationId": conversationID},
	})
}

// Typing notifies the room that this client is typing.
func (c *Client) Typing(conversationID string) error {
	return c.write(outEnvelope{
		Event: "typing",
		Data:  map[string]string{"conversationId": conversationID},
	})
}

// Send renders an optimistic local copy, submits the message, and waits for
// the acknowledgement. On rejection the optimistic copy is removed and the
// server error returned.
func (c *Client) Send(ctx context.Context, conversationID, text, senderRole string) (Message, error) {
	clientID := uuid.NewString()
	pending := Message{
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       c.opts.SelfID,
		SenderRole:     senderRole,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
		Pending:        true,
	}

	ackCh := make(chan ack, 1)
	c.mu.Lock()
	c.acks[clientID] = ackCh
	c.messages[conversationID] = append(c.messages[conversationID], pending)
	c.mu.Unlock()
	c.rec.Add(optimistic.Pending{
		ClientID: clientID,
		SenderID: c.opts.SelfID,
		Text:     text,
		SentAt:   pending.CreatedAt,
	})

	err := c.write(outEnvelope{
		Event: "chat:message",
		Data: map[string]string{
			"conversationId": conversationID,
			"text":           text,
			"senderRole":     senderRole,
			"clientId":       clientID,
		},
	})
	if err != nil {
		c.rollback(clientID, conversationID)
		return Message{}, err
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	select {
	case a := <-ackCh:
		if !a.Success {
			c.rollback(clientID, conversationID)
			return Message{}, fmt.Errorf("send rejected: %s", a.Error)
		}
		if a.Message != nil {
			c.reconcile(*a.Message)
			return *a.Message, nil
		}
		return Message{}, nil
	case <-ctx.Done():
		c.rollback(clientID, conversationID)
		return Message{}, ctx.Err()
	case <-timer.C:
		c.rollback(clientID, conversationID)
		return Message{}, fmt.Errorf("send ack timeout")
	case <-c.done:
		return Message{}, fmt.Errorf("connection closed")
	}
}

// Messages snapshots the local view of a conversation.
func (c *Client) Messages(conversationID string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Active returns the currently open conversation, empty after a teardown.
func (c *Client) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close tears the connection down.
func (c *Client) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Client) write(env outEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case "chat:message":
			var msg Message
			if err := json.Unmarshal(env.Data, &msg); err == nil {
				c.reconcile(msg)
			}
		case "chat:ack":
			var a ack
			if err := json.Unmarshal(env.Data, &a); err == nil {
				c.deliverAck(a)
			}
		case "chat:message-deleted":
			var d deletion
			if err := json.Unmarshal(env.Data, &d); err == nil {
				c.dropMessage(d)
				if c.opts.Events.OnMessageDeleted != nil {
					c.opts.Events.OnMessageDeleted(d.MessageID, d.ConversationID)
				}
			}
		case "chat:conversation-deleted":
			var d deletion
			if err := json.Unmarshal(env.Data, &d); err == nil {
				c.teardown(d.ConversationID)
				if c.opts.Events.OnConversationDeleted != nil {
					c.opts.Events.OnConversationDeleted(d.ConversationID)
				}
			}
		case "typing":
			var t typing
			if err := json.Unmarshal(env.Data, &t); err == nil && c.opts.Events.OnTyping != nil {
				c.opts.Events.OnTyping(t.ConversationID, t.SenderID)
			}
		}
	}
}

// reconcile folds an authoritative message into the local view: it replaces
// the matching optimistic copy when there is one, appends otherwise, and is
// idempotent when the ack and the broadcast both deliver the same message.
func (c *Client) reconcile(msg Message) {
	clientID, matched := c.rec.Observe(msg.ClientID, msg.SenderID, msg.Text, msg.CreatedAt)

	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages[msg.ConversationID]
	for i, existing := range msgs {
		if existing.ID != "" && existing.ID == msg.ID {
			return // already authoritative
		}
		if matched && existing.Pending && existing.ClientID == clientID {
			msg.Pending = false
			msgs[i] = msg
			return
		}
	}

	msg.Pending = false
	c.messages[msg.ConversationID] = append(msgs, msg)
}

func (c *Client) deliverAck(a ack) {
	c.mu.Lock()
	ch, ok := c.acks[a.ClientID]
	if ok {
		delete(c.acks, a.ClientID)
	}
	c.mu.Unlock()

	if ok {
		ch <- a
	}
}

// rollback removes a rejected optimistic copy rather than leaving it stale.
func (c *Client) rollback(clientID, conversationID string) {
	c.rec.Fail(clientID)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.acks, clientID)
	msgs := c.messages[conversationID]
	for i, msg := range msgs {
		if msg.Pending && msg.ClientID == clientID {
			c.messages[conversationID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

func (c *Client) dropMessage(d deletion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.messages[d.ConversationID]
	for i, msg := range msgs {
		if msg.ID == d.MessageID {
			c.messages[d.ConversationID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

// teardown clears local state for a deleted conversation and deselects it if
// it was the active one.
func (c *Client) teardown(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.messages, conversationID)
	if c.active == conversationID {
		c.active = ""
	}
}
