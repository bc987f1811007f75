// Package store owns durability for conversations and messages. The Mongo
// implementations are authoritative in production; the memory implementation
// backs tests and store-less development. The relay never caches state beyond
// a single request.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/docport/chat-relay/internal/model/chat"
	"github.com/docport/chat-relay/internal/model/identity"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

var (
	ErrConversationNotFound = apperrors.NotFound("conversation not found")
	ErrMessageNotFound      = apperrors.NotFound("message not found")
	ErrProfileNotFound      = apperrors.NotFound("profile not found")
)

// ConversationStore persists conversation records keyed by their canonical
// participant pair.
type ConversationStore interface {
	// GetOrCreate returns the conversation for the pair, creating it if
	// absent. A concurrent duplicate insert resolves to the existing record.
	GetOrCreate(ctx context.Context, pair chat.ParticipantPair) (chat.Conversation, error)
	Get(ctx context.Context, id primitive.ObjectID) (chat.Conversation, error)
	// TouchLastMessage bumps lastMessageAt; listing order only, never
	// correctness.
	TouchLastMessage(ctx context.Context, id primitive.ObjectID, at time.Time) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	ListByParticipant(ctx context.Context, participantID string) ([]chat.Conversation, error)
}

// MessageStore persists messages under exclusive conversation ownership.
type MessageStore interface {
	// Insert assigns the message id and createdAt at persistence time.
	Insert(ctx context.Context, msg *chat.Message) error
	Get(ctx context.Context, id primitive.ObjectID) (chat.Message, error)
	// List returns one page in ascending createdAt order, where page 1 is
	// always the most recent `limit` messages (newest-first window,
	// reversed).
	List(ctx context.Context, conversationID primitive.ObjectID, page, limit int) ([]chat.Message, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) (int64, error)
	LastByConversation(ctx context.Context, conversationID primitive.ObjectID) (*chat.Message, error)
}

// ProfileStore resolves display profiles from the account space named by the
// identity's role.
type ProfileStore interface {
	Profile(ctx context.Context, ident identity.Identity) (chat.Profile, error)
}

var (
	_ ConversationStore = (*MongoConversations)(nil)
	_ MessageStore      = (*MongoMessages)(nil)
	_ ProfileStore      = (*MongoProfiles)(nil)
	_ ConversationStore = (*MemoryConversations)(nil)
	_ MessageStore      = (*MemoryMessages)(nil)
	_ ProfileStore      = (*MemoryProfiles)(nil)
)
