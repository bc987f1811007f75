package chat

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/docport/chat-relay/internal/model/identity"
)

// Message is one immutable turn inside a conversation. The sender role is
// stored redundantly next to the sender id because user and doctor ids live
// in disjoint account spaces (senderModel mirrors senderRole and names the
// collection the reference resolves against).
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ConversationID primitive.ObjectID `bson:"conversation" json:"conversation"`
	SenderID       string             `bson:"sender" json:"senderId"`
	SenderModel    identity.Role      `bson:"senderModel" json:"senderModel"`
	SenderRole     identity.Role      `bson:"senderRole" json:"senderRole"`
	Text           string             `bson:"text" json:"text"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	ReadAt         *time.Time         `bson:"readAt,omitempty" json:"readAt,omitempty"`

	// Sender carries the resolved display profile on the wire. Enrichment is
	// best effort and never persisted.
	Sender *Profile `bson:"-" json:"sender,omitempty"`

	// ClientID echoes the sender's correlation id so the sending client can
	// replace its optimistic copy with this authoritative message. Never
	// persisted.
	ClientID string `bson:"-" json:"clientId,omitempty"`
}
