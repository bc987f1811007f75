package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docport/chat-relay/internal/model/chat"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

// MongoConversations implements ConversationStore on a conversations
// collection with a unique index on the canonical participant pair.
type MongoConversations struct {
	coll *mongo.Collection
}

func NewMongoConversations(db *mongo.Database) *MongoConversations {
	return &MongoConversations{coll: db.Collection(collConversations)}
}

func (s *MongoConversations) GetOrCreate(ctx context.Context, pair chat.ParticipantPair) (chat.Conversation, error) {
	filter := bson.M{"participants": bson.A{pair[0], pair[1]}}

	var conv chat.Conversation
	err := s.coll.FindOne(ctx, filter).Decode(&conv)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, apperrors.Unavailable("conversation lookup failed", err)
	}

	conv = chat.Conversation{
		ID:           primitive.NewObjectID(),
		Participants: pair,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		// A concurrent identical request won the insert; the lookup is
		// authoritative.
		if mongo.IsDuplicateKeyError(err) {
			var existing chat.Conversation
			if ferr := s.coll.FindOne(ctx, filter).Decode(&existing); ferr != nil {
				return chat.Conversation{}, apperrors.Unavailable("conversation re-fetch failed", ferr)
			}
			return existing, nil
		}
		return chat.Conversation{}, apperrors.Unavailable("conversation insert failed", err)
	}
	return conv, nil
}

func (s *MongoConversations) Get(ctx context.Context, id primitive.ObjectID) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, apperrors.Unavailable("conversation lookup failed", err)
	}
	return conv, nil
}

func (s *MongoConversations) TouchLastMessage(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"lastMessageAt": at}})
	if err != nil {
		return apperrors.Unavailable("conversation update failed", err)
	}
	return nil
}

func (s *MongoConversations) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperrors.Unavailable("conversation delete failed", err)
	}
	if res.DeletedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *MongoConversations) ListByParticipant(ctx context.Context, participantID string) ([]chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}, {Key: "createdAt", Value: -1}})
	cur, err := s.coll.Find(ctx, bson.M{"participants": participantID}, opts)
	if err != nil {
		return nil, apperrors.Unavailable("conversation listing failed", err)
	}
	defer cur.Close(ctx)

	var convs []chat.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, apperrors.Unavailable("conversation listing failed", err)
	}
	return convs, nil
}
