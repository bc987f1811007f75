package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/docport/chat-relay/internal/model/chat"
	"github.com/docport/chat-relay/internal/model/identity"
)

// In-process implementations of the store interfaces. They back the tests
// and store-less development runs; message order within a conversation is
// insertion order, which is also the createdAt tie-break the Mongo stores
// provide via _id.

type MemoryConversations struct {
	mu     sync.RWMutex
	byID   map[primitive.ObjectID]chat.Conversation
	byPair map[chat.ParticipantPair]primitive.ObjectID
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{
		byID:   make(map[primitive.ObjectID]chat.Conversation),
		byPair: make(map[chat.ParticipantPair]primitive.ObjectID),
	}
}

func (m *MemoryConversations) GetOrCreate(_ context.Context, pair chat.ParticipantPair) (chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPair[pair]; ok {
		return m.byID[id], nil
	}

	conv := chat.Conversation{
		ID:           primitive.NewObjectID(),
		Participants: pair,
		CreatedAt:    time.Now().UTC(),
	}
	m.byID[conv.ID] = conv
	m.byPair[pair] = conv.ID
	return conv, nil
}

func (m *MemoryConversations) Get(_ context.Context, id primitive.ObjectID) (chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.byID[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (m *MemoryConversations) TouchLastMessage(_ context.Context, id primitive.ObjectID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.byID[id]
	if !ok {
		return nil
	}
	conv.LastMessageAt = at
	m.byID[id] = conv
	return nil
}

func (m *MemoryConversations) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.byID[id]
	if !ok {
		return ErrConversationNotFound
	}
	delete(m.byID, id)
	delete(m.byPair, conv.Participants)
	return nil
}

func (m *MemoryConversations) ListByParticipant(_ context.Context, participantID string) ([]chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []chat.Conversation
	for _, conv := range m.byID {
		if conv.Participants.Contains(participantID) {
			convs = append(convs, conv)
		}
	}
	sortConversations(convs)
	return convs, nil
}

type MemoryMessages struct {
	mu     sync.RWMutex
	byConv map[primitive.ObjectID][]chat.Message
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{byConv: make(map[primitive.ObjectID][]chat.Message)}
}

func (m *MemoryMessages) Insert(_ context.Context, msg *chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now().UTC()
	stored := *msg
	stored.Sender = nil
	stored.ClientID = ""
	m.byConv[msg.ConversationID] = append(m.byConv[msg.ConversationID], stored)
	return nil
}

func (m *MemoryMessages) Get(_ context.Context, id primitive.ObjectID) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msgs := range m.byConv {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg, nil
			}
		}
	}
	return chat.Message{}, ErrMessageNotFound
}

func (m *MemoryMessages) List(_ context.Context, conversationID primitive.ObjectID, page, limit int) ([]chat.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.byConv[conversationID]
	// Ascending window equivalent to the newest-first skip/limit fetch
	// reversed: page 1 is the most recent `limit` messages, oldest first.
	end := len(msgs) - (page-1)*limit
	if end <= 0 {
		return []chat.Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]chat.Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (m *MemoryMessages) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for convID, msgs := range m.byConv {
		for i, msg := range msgs {
			if msg.ID == id {
				m.byConv[convID] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return ErrMessageNotFound
}

func (m *MemoryMessages) DeleteByConversation(_ context.Context, conversationID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.byConv[conversationID]))
	delete(m.byConv, conversationID)
	return n, nil
}

func (m *MemoryMessages) LastByConversation(_ context.Context, conversationID primitive.ObjectID) (*chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.byConv[conversationID]
	if len(msgs) == 0 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}

type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[identity.Role]map[string]chat.Profile
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{
		profiles: map[identity.Role]map[string]chat.Profile{
			identity.RoleUser:   {},
			identity.RoleDoctor: {},
		},
	}
}

// Seed registers a display profile in the given account space.
func (m *MemoryProfiles) Seed(role identity.Role, profile chat.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[role][profile.ID] = profile
}

func (m *MemoryProfiles) Profile(_ context.Context, ident identity.Identity) (chat.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[ident.Role][ident.ID]
	if !ok {
		return chat.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func sortConversations(convs []chat.Conversation) {
	// Most recently active first, falling back to creation time.
	sort.SliceStable(convs, func(i, j int) bool {
		return laterActivity(convs[i], convs[j])
	})
}

func laterActivity(a, b chat.Conversation) bool {
	at, bt := a.LastMessageAt, b.LastMessageAt
	if at.IsZero() {
		at = a.CreatedAt
	}
	if bt.IsZero() {
		bt = b.CreatedAt
	}
	return at.After(bt)
}
