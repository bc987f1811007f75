package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/docport/chat-relay/internal/model/chat"
	"github.com/docport/chat-relay/internal/model/identity"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

// MongoProfiles resolves display profiles against the users and doctors
// collections owned by the account system.
type MongoProfiles struct {
	users   *mongo.Collection
	doctors *mongo.Collection
}

func NewMongoProfiles(db *mongo.Database) *MongoProfiles {
	return &MongoProfiles{
		users:   db.Collection(collUsers),
		doctors: db.Collection(collDoctors),
	}
}

type profileDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Email string             `bson:"email"`
	Image string             `bson:"image"`
}

func (s *MongoProfiles) Profile(ctx context.Context, ident identity.Identity) (chat.Profile, error) {
	coll := s.users
	if ident.Role == identity.RoleDoctor {
		coll = s.doctors
	}

	oid, err := primitive.ObjectIDFromHex(ident.ID)
	if err != nil {
		return chat.Profile{}, ErrProfileNotFound
	}

	var doc profileDoc
	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return chat.Profile{}, apperrors.Unavailable("profile lookup failed", err)
	}

	return chat.Profile{
		ID:    doc.ID.Hex(),
		Name:  doc.Name,
		Email: doc.Email,
		Image: doc.Image,
	}, nil
}
