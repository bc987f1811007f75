package ws

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/docport/chat-relay/internal/middleware"
	"github.com/docport/chat-relay/internal/model/identity"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

// Handler upgrades relay connections and drives their event loop: join,
// send, typing in; message, ack, deletion and teardown events out.
type Handler struct {
	chatSvc   *chatservice.Service
	hub       *relay.Hub
	opts      relay.Options
	jwtSecret string
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

func New(chatSvc *chatservice.Service, hub *relay.Hub, jwtSecret string, opts relay.Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		chatSvc:   chatSvc,
		hub:       hub,
		opts:      opts,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ident := h.resolveIdentity(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := relay.NewConn(ws, ident, h.opts)
	h.log.Info("client connected",
		zap.String("conn_id", conn.ID()),
		zap.Bool("authenticated", !ident.Zero()))

	go conn.WritePump()

	defer func() {
		h.hub.Remove(conn)
		conn.Close()
		h.log.Info("client disconnected", zap.String("conn_id", conn.ID()))
	}()

	conn.PrepareRead()
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed",
					zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		h.dispatch(r, conn, env)
	}
}

// resolveIdentity accepts a token from the auth middleware, the handshake
// headers, or the query string (browsers cannot set headers on websocket
// upgrades). A connection without a valid token stays anonymous.
func (h *Handler) resolveIdentity(r *http.Request) identity.Identity {
	if ident, ok := middleware.IdentityFrom(r.Context()); ok {
		return ident
	}
	if raw := r.URL.Query().Get("token"); raw != "" {
		if ident, err := middleware.ParseToken(h.jwtSecret, raw, identity.RoleUser); err == nil {
			return ident
		}
	}
	if raw := r.URL.Query().Get("dtoken"); raw != "" {
		if ident, err := middleware.ParseToken(h.jwtSecret, raw, identity.RoleDoctor); err == nil {
			return ident
		}
	}
	return identity.Identity{}
}

func (h *Handler) dispatch(r *http.Request, conn *relay.Conn, env relay.Envelope) {
	switch env.Event {
	case relay.EventJoin:
		var payload relay.JoinPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			return
		}
		h.handleJoin(r, conn, payload)

	case relay.EventSend:
		var payload relay.SendPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		h.handleSend(r, conn, payload)

	case relay.EventTyping:
		var payload relay.TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ConversationID == "" {
			return
		}
		h.handleTyping(conn, payload)

	default:
		h.log.Debug("unknown event",
			zap.String("conn_id", conn.ID()), zap.String("event", env.Event))
	}
}

// handleJoin subscribes the connection to a room. Authenticated connections
// are re-validated against the participant pair; a failed check silently
// drops the join (fire-and-forget event, and membership must not be probed).
func (h *Handler) handleJoin(r *http.Request, conn *relay.Conn, payload relay.JoinPayload) {
	if ident, ok := conn.Identity(); ok {
		if _, err := h.chatSvc.Conversation(r.Context(), ident, payload.ConversationID); err != nil {
			h.log.Debug("join rejected",
				zap.String("conn_id", conn.ID()),
				zap.String("conversation_id", payload.ConversationID))
			return
		}
	}
	h.hub.Join(payload.ConversationID, conn)
}

// handleSend runs the persist+broadcast sequence under the room's send lock
// so members observe messages in persisted order, then acks the sender.
func (h *Handler) handleSend(r *http.Request, conn *relay.Conn, payload relay.SendPayload) {
	ident, _ := conn.Identity()

	var role identity.Role
	if payload.SenderRole != "" {
		role = identity.ParseRole(payload.SenderRole)
	}

	lock := h.hub.SendLock(payload.ConversationID)
	lock.Lock()
	msg, err := h.chatSvc.Send(r.Context(), ident, payload.ConversationID, payload.Text, role, payload.ClientID)
	if err == nil {
		h.hub.Broadcast(payload.ConversationID, relay.Event{Event: relay.EventMessage, Data: msg})
	}
	lock.Unlock()

	if err != nil {
		// Send failures surface twice on the wire: a socket-level error event
		// and the per-send ack.
		errMsg := apperrors.MessageOf(err)
		conn.Enqueue(relay.Event{Event: relay.EventError, Data: relay.ErrorPayload{Error: errMsg}})
		conn.Enqueue(relay.Event{Event: relay.EventAck, Data: relay.Ack{
			Error:    errMsg,
			ClientID: payload.ClientID,
		}})
		return
	}

	conn.Enqueue(relay.Event{Event: relay.EventAck, Data: relay.Ack{
		Success:  true,
		Message:  &msg,
		ClientID: payload.ClientID,
	}})
}

// handleTyping relays a typing notice to everyone in the room but the
// sender. Never persisted.
func (h *Handler) handleTyping(conn *relay.Conn, payload relay.TypingPayload) {
	ident, ok := conn.Identity()
	if !ok {
		return
	}
	h.hub.BroadcastExcept(payload.ConversationID, conn, relay.Event{
		Event: relay.EventTyping,
		Data:  relay.Typing{ConversationID: payload.ConversationID, SenderID: ident.ID},
	})
}
