// Package chat implements the conversation directory, the authorization
// gate, and the message lifecycle the relay and REST surface share.
package chat

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/docport/chat-relay/internal/model/chat"
	"github.com/docport/chat-relay/internal/model/identity"
	"github.com/docport/chat-relay/internal/store"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

var (
	ErrAuthRequired    = apperrors.Unauthorized("Authentication required")
	ErrMissingFields   = apperrors.InvalidArg("Conversation ID and text are required")
	ErrInvalidPair     = apperrors.InvalidArg("userId and doctorId are required")
	ErrNotMessageOwner = apperrors.Forbidden("only the sender can delete a message")
)

// Service wires the stores behind the conversation/message operations. It
// holds no authoritative state of its own; every call goes back to the store.
type Service struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	profiles      store.ProfileStore
	log           *zap.Logger
}

func NewService(conversations store.ConversationStore, messages store.MessageStore, profiles store.ProfileStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		log:           log,
	}
}

// CanAccess is the authorization gate: an identity may touch a conversation
// iff it appears in the participant pair.
func CanAccess(ident identity.Identity, conv chat.Conversation) bool {
	return conv.Participants.Contains(ident.ID)
}

// GetOrCreate finds or creates the single conversation for a user-doctor
// pair. Identity order does not matter; the pair is canonicalized before the
// store is touched.
func (s *Service) GetOrCreate(ctx context.Context, userID, doctorID string) (chat.Conversation, error) {
	userID = strings.TrimSpace(userID)
	doctorID = strings.TrimSpace(doctorID)
	if userID == "" || doctorID == "" || userID == doctorID {
		return chat.Conversation{}, ErrInvalidPair
	}

	return s.conversations.GetOrCreate(ctx, chat.NewParticipantPair(userID, doctorID))
}

// Conversation returns a conversation the identity participates in. A
// non-participant gets not-found, never confirmation that the record exists.
func (s *Service) Conversation(ctx context.Context, ident identity.Identity, conversationID string) (chat.Conversation, error) {
	id, err := parseID(conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}

	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !CanAccess(ident, conv) {
		return chat.Conversation{}, store.ErrConversationNotFound
	}
	return conv, nil
}

// Send validates, authorizes, and persists one message, returning the wire
// form the relay broadcasts. Display enrichment is best effort; a failed
// profile lookup never fails the send.
func (s *Service) Send(ctx context.Context, ident identity.Identity, conversationID, text string, role identity.Role, clientID string) (chat.Message, error) {
	if ident.Zero() {
		return chat.Message{}, ErrAuthRequired
	}

	text = strings.TrimSpace(text)
	if conversationID == "" || text == "" {
		return chat.Message{}, ErrMissingFields
	}

	if !role.Valid() {
		role = ident.Role
	}
	if !role.Valid() {
		role = identity.RoleUser
	}

	conv, err := s.Conversation(ctx, ident, conversationID)
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ConversationID: conv.ID,
		SenderID:       ident.ID,
		SenderModel:    role,
		SenderRole:     role,
		Text:           text,
	}
	if err := s.messages.Insert(ctx, &msg); err != nil {
		return chat.Message{}, err
	}

	if err := s.conversations.TouchLastMessage(ctx, conv.ID, msg.CreatedAt); err != nil {
		// Listing order only; the persisted message stands.
		s.log.Warn("touch lastMessageAt failed",
			zap.String("conversation_id", conv.ID.Hex()), zap.Error(err))
	}

	if profile, err := s.profiles.Profile(ctx, identity.Identity{ID: ident.ID, Role: role}); err == nil {
		msg.Sender = &profile
	} else {
		s.log.Debug("sender enrichment failed",
			zap.String("sender_id", ident.ID), zap.Error(err))
	}

	msg.ClientID = clientID
	return msg, nil
}

// ListMessages returns one ascending page of a conversation's history. Page 1
// is always the most recent `limit` messages.
func (s *Service) ListMessages(ctx context.Context, ident identity.Identity, conversationID string, page, limit int) ([]chat.Message, error) {
	if ident.Zero() {
		return nil, ErrAuthRequired
	}

	conv, err := s.Conversation(ctx, ident, conversationID)
	if err != nil {
		return nil, err
	}
	return s.messages.List(ctx, conv.ID, page, limit)
}

// ListConversations returns the identity's conversations enriched with the
// counterpart profile and last message, most recently active first.
func (s *Service) ListConversations(ctx context.Context, ident identity.Identity) ([]chat.ConversationSummary, error) {
	if ident.Zero() {
		return nil, ErrAuthRequired
	}

	convs, err := s.conversations.ListByParticipant(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	counterpartRole := identity.RoleDoctor
	if ident.Role == identity.RoleDoctor {
		counterpartRole = identity.RoleUser
	}

	summaries := make([]chat.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := chat.ConversationSummary{Conversation: conv}

		counterpart := conv.Participants.Counterpart(ident.ID)
		if profile, err := s.profiles.Profile(ctx, identity.Identity{ID: counterpart, Role: counterpartRole}); err == nil {
			summary.Counterpart = &profile
		}
		if last, err := s.messages.LastByConversation(ctx, conv.ID); err == nil {
			summary.LastMessage = last
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// DeleteMessage removes a message its sender no longer wants visible and
// returns the deleted record so the caller can broadcast the removal.
func (s *Service) DeleteMessage(ctx context.Context, ident identity.Identity, messageID string) (chat.Message, error) {
	if ident.Zero() {
		return chat.Message{}, ErrAuthRequired
	}

	id, err := parseID(messageID)
	if err != nil {
		return chat.Message{}, err
	}

	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return chat.Message{}, err
	}
	if !CanAccess(ident, conv) {
		return chat.Message{}, store.ErrMessageNotFound
	}
	if msg.SenderID != ident.ID {
		return chat.Message{}, ErrNotMessageOwner
	}

	if err := s.messages.Delete(ctx, id); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// DeleteConversation cascades a participant-initiated teardown: all messages
// first, then the conversation record.
func (s *Service) DeleteConversation(ctx context.Context, ident identity.Identity, conversationID string) (chat.Conversation, error) {
	if ident.Zero() {
		return chat.Conversation{}, ErrAuthRequired
	}

	conv, err := s.Conversation(ctx, ident, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}

	if _, err := s.messages.DeleteByConversation(ctx, conv.ID); err != nil {
		return chat.Conversation{}, err
	}
	if err := s.conversations.Delete(ctx, conv.ID); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func parseID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(raw))
	if err != nil {
		return primitive.NilObjectID, apperrors.InvalidArg("invalid id")
	}
	return id, nil
}
