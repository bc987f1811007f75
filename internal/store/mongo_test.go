package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

// The uniqueness constraint must cover the whole canonical pair. Keying the
// array field directly makes the index multikey, so a participant's second
// conversation ("A","C" after "A","B") would collide on the shared element
// and GetOrCreate's duplicate-key re-fetch would find no exact-pair match.
func TestConversationPairIndexKeysWholePair(t *testing.T) {
	model := conversationPairIndex()

	keys, ok := model.Keys.(bson.D)
	if !ok {
		t.Fatalf("expected bson.D keys, got %T", model.Keys)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 key positions, got %d", len(keys))
	}
	if keys[0].Key != "participants.0" || keys[1].Key != "participants.1" {
		t.Fatalf("expected canonical position keys, got %q and %q", keys[0].Key, keys[1].Key)
	}
	for _, key := range keys {
		if key.Key == "participants" {
			t.Fatal("index must not key the array field itself")
		}
	}

	if model.Options == nil || model.Options.Unique == nil || !*model.Options.Unique {
		t.Fatal("expected a unique index")
	}
}

func TestMessageHistoryIndexNewestFirst(t *testing.T) {
	model := messageHistoryIndex()

	keys, ok := model.Keys.(bson.D)
	if !ok {
		t.Fatalf("expected bson.D keys, got %T", model.Keys)
	}
	if len(keys) != 2 || keys[0].Key != "conversation" || keys[1].Key != "createdAt" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	if keys[1].Value != -1 {
		t.Fatalf("expected descending createdAt, got %v", keys[1].Value)
	}
}
