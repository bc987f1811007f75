package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docport/chat-relay/internal/middleware"
	"github.com/docport/chat-relay/internal/model/identity"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
	"github.com/docport/chat-relay/pkg/utils"
)

// Handler is the REST surface of the chat core. Deletions broadcast through
// the relay hub so every live room member converges with the store.
type Handler struct {
	chatSvc *chatservice.Service
	hub     *relay.Hub
	log     *zap.Logger
}

func New(chatSvc *chatservice.Service, hub *relay.Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, hub: hub, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversation", h.requireIdentity(h.handleUpsertConversation))
	r.Get("/messages", h.requireIdentity(h.handleListMessages))
	r.Get("/user/conversations", h.requireRole(identity.RoleUser, h.handleListConversations))
	r.Get("/doctor/conversations", h.requireRole(identity.RoleDoctor, h.handleListConversations))
	r.Delete("/message", h.requireIdentity(h.handleDeleteMessage))
	r.Delete("/doctor/message", h.requireRole(identity.RoleDoctor, h.handleDeleteMessage))
	r.Delete("/conversation", h.requireIdentity(h.handleDeleteConversation))
	r.Delete("/doctor/conversation", h.requireRole(identity.RoleDoctor, h.handleDeleteConversation))
}

func (h *Handler) requireIdentity(next func(http.ResponseWriter, *http.Request, identity.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, ok := middleware.IdentityFrom(r.Context())
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r, ident)
	}
}

func (h *Handler) requireRole(role identity.Role, next func(http.ResponseWriter, *http.Request, identity.Identity)) http.HandlerFunc {
	return h.requireIdentity(func(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
		if ident.Role != role {
			utils.RespondError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, ident)
	})
}

// POST /conversation — conversation directory find-or-create.
func (h *Handler) handleUpsertConversation(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	var payload struct {
		UserID   string `json:"userId"`
		DoctorID string `json:"doctorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if ident.ID != payload.UserID && ident.ID != payload.DoctorID {
		utils.RespondError(w, http.StatusForbidden, "forbidden")
		return
	}

	conv, err := h.chatSvc.GetOrCreate(r.Context(), payload.UserID, payload.DoctorID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

// GET /messages?conversationId&page&limit — ascending page, page 1 newest.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	conversationID := r.URL.Query().Get("conversationId")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	msgs, err := h.chatSvc.ListMessages(r.Context(), ident, conversationID, page, limit)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"data": msgs})
}

// GET /user/conversations, GET /doctor/conversations
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	summaries, err := h.chatSvc.ListConversations(r.Context(), ident)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"data": summaries})
}

// DELETE /message, DELETE /doctor/message — sender-only delete, then a
// message-deleted broadcast to the room.
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.DeleteMessage(r.Context(), ident, payload.MessageID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	roomID := msg.ConversationID.Hex()
	h.hub.Broadcast(roomID, relay.Event{
		Event: relay.EventMessageDeleted,
		Data: relay.MessageDeleted{
			MessageID:      msg.ID.Hex(),
			ConversationID: roomID,
		},
	})
	h.log.Info("message deleted",
		zap.String("message_id", msg.ID.Hex()),
		zap.String("conversation_id", roomID))

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DELETE /conversation, DELETE /doctor/conversation — cascade delete, then a
// teardown broadcast; every member must abandon the room.
func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request, ident identity.Identity) {
	var payload struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.DeleteConversation(r.Context(), ident, payload.ConversationID)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	roomID := conv.ID.Hex()
	h.hub.Broadcast(roomID, relay.Event{
		Event: relay.EventConversationDeleted,
		Data:  relay.ConversationDeleted{ConversationID: roomID},
	})
	h.hub.DropRoom(roomID)
	h.log.Info("conversation deleted",
		zap.String("conversation_id", roomID))

	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return def
	}
	return val
}
