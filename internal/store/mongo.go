package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collConversations = "conversations"
	collMessages      = "messages"
	collUsers         = "users"
	collDoctors       = "doctors"
)

// Connect opens a Mongo client and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes the relay relies on: the unique canonical
// participant pair (backs the find-or-create race) and the per-conversation
// newest-first message index.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(collConversations).Indexes().CreateOne(ctx, conversationPairIndex())
	if err != nil {
		return err
	}

	_, err = db.Collection(collMessages).Indexes().CreateOne(ctx, messageHistoryIndex())
	return err
}

// conversationPairIndex keys uniqueness on the two canonical positions of the
// sorted pair. A unique index on the array field itself is multikey and
// constrains each element across documents, which would cap every participant
// at one conversation total.
func conversationPairIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{
			{Key: "participants.0", Value: 1},
			{Key: "participants.1", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
}

func messageHistoryIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "createdAt", Value: -1}},
	}
}
