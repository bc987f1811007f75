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

// MongoMessages implements MessageStore on a messages collection indexed by
// (conversation, createdAt desc).
type MongoMessages struct {
	coll *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	return &MongoMessages{coll: db.Collection(collMessages)}
}

func (s *MongoMessages) Insert(ctx context.Context, msg *chat.Message) error {
	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now().UTC()
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		msg.ID = primitive.NilObjectID
		return apperrors.Unavailable("message insert failed", err)
	}
	return nil
}

func (s *MongoMessages) Get(ctx context.Context, id primitive.ObjectID) (chat.Message, error) {
	var msg chat.Message
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return chat.Message{}, apperrors.Unavailable("message lookup failed", err)
	}
	return msg, nil
}

// List fetches page `page` newest-first and presents it oldest-first, so page
// 1 is always the most recent `limit` messages. Ties on createdAt fall back
// to _id, which is monotonic for messages inserted by this process.
func (s *MongoMessages) List(ctx context.Context, conversationID primitive.ObjectID, page, limit int) ([]chat.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{"conversation": conversationID}, opts)
	if err != nil {
		return nil, apperrors.Unavailable("message listing failed", err)
	}
	defer cur.Close(ctx)

	var msgs []chat.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, apperrors.Unavailable("message listing failed", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MongoMessages) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperrors.Unavailable("message delete failed", err)
	}
	if res.DeletedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *MongoMessages) DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"conversation": conversationID})
	if err != nil {
		return 0, apperrors.Unavailable("message cascade delete failed", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoMessages) LastByConversation(ctx context.Context, conversationID primitive.ObjectID) (*chat.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	var msg chat.Message
	err := s.coll.FindOne(ctx, bson.M{"conversation": conversationID}, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Unavailable("message lookup failed", err)
	}
	return &msg, nil
}
