package chat

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParticipantPair is the canonical participant set of a conversation: the
// user and doctor ids sorted lexicographically, so (a,b) and (b,a) form the
// same key and a pair maps to at most one conversation.
type ParticipantPair [2]string

// NewParticipantPair canonicalizes two participant ids.
func NewParticipantPair(a, b string) ParticipantPair {
	if b < a {
		a, b = b, a
	}
	return ParticipantPair{a, b}
}

// Contains reports whether id is one of the two participants.
func (p ParticipantPair) Contains(id string) bool {
	return id != "" && (p[0] == id || p[1] == id)
}

// Counterpart returns the other participant of the pair.
func (p ParticipantPair) Counterpart(id string) string {
	if p[0] == id {
		return p[1]
	}
	return p[0]
}

// Conversation is the unique channel between one user and one doctor. The
// participant pair is set at creation and never mutated.
type Conversation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Participants  ParticipantPair    `bson:"participants" json:"participants"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	LastMessageAt time.Time          `bson:"lastMessageAt,omitempty" json:"lastMessageAt,omitempty"`
}

// ConversationSummary is a listing row: the conversation plus the counterpart
// profile and last message, resolved for display.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	Counterpart  *Profile     `json:"counterpart,omitempty"`
	LastMessage  *Message     `json:"lastMessage,omitempty"`
}
