// Package relay is the real-time core: it owns the room registry
// (conversation id -> live connections), the websocket connection lifecycle,
// and the event surface shared with clients.
package relay

import (
	"encoding/json"

	"github.com/docport/chat-relay/internal/model/chat"
)

// Client -> server events.
const (
	EventJoin   = "chat:join"
	EventSend   = "chat:message"
	EventTyping = "typing"
)

// Server -> client events. EventSend doubles as the broadcast event name, as
// the wire protocol reuses "chat:message" in both directions.
const (
	EventMessage             = "chat:message"
	EventMessageDeleted      = "chat:message-deleted"
	EventConversationDeleted = "chat:conversation-deleted"
	EventAck                 = "chat:ack"
	EventError               = "error"
)

// Envelope is an inbound frame; Data stays raw until the event is dispatched.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

type SendPayload struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	SenderRole     string `json:"senderRole,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// Ack is delivered only to the sender, never broadcast.
type Ack struct {
	Success  bool          `json:"success"`
	Message  *chat.Message `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	ClientID string        `json:"clientId,omitempty"`
}

type MessageDeleted struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ConversationDeleted struct {
	ConversationID string `json:"conversationId"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
