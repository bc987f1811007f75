package chatclient_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/docport/chat-relay/internal/handler/ws"
	"github.com/docport/chat-relay/internal/middleware"
	modelchat "github.com/docport/chat-relay/internal/model/chat"
	"github.com/docport/chat-relay/internal/model/identity"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
	"github.com/docport/chat-relay/internal/store"
	"github.com/docport/chat-relay/pkg/chatclient"
)

const (
	clientSecret = "client-secret"
	clientUser   = "66e9a1f2c3d4e5f6a7b8c921"
	clientDoctor = "66e9a1f2c3d4e5f6a7b8c922"
)

type clientEnv struct {
	srv *httptest.Server
	svc *chatservice.Service
	hub *relay.Hub
}

func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()

	svc := chatservice.NewService(store.NewMemoryConversations(), store.NewMemoryMessages(), store.NewMemoryProfiles(), nil)
	hub := relay.NewHub(nil)

	r := chi.NewRouter()
	r.Use(middleware.Auth(clientSecret))
	ws.New(svc, hub, clientSecret, relay.Options{}, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &clientEnv{srv: srv, svc: svc, hub: hub}
}

func (e *clientEnv) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws" + query
}

func clientToken(t *testing.T, id string, role identity.Role) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   id,
		"role": string(role),
	}).SignedString([]byte(clientSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *clientEnv) conversation(t *testing.T) modelchat.Conversation {
	t.Helper()
	conv, err := e.svc.GetOrCreate(context.Background(), clientUser, clientDoctor)
	if err != nil {
		t.Fatalf("GetOrCreate err: %v", err)
	}
	return conv
}

func (e *clientEnv) join(t *testing.T, c *chatclient.Client, roomID string, want int) {
	t.Helper()
	if err := c.Join(roomID); err != nil {
		t.Fatalf("join: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for e.hub.Members(roomID) < want {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", roomID, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Ack and room broadcast both deliver the sent message; the local view must
// end up with exactly one, authoritative copy.
func TestSendConvergesToSingleCopy(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	client, err := chatclient.Dial(context.Background(),
		env.wsURL("?token="+clientToken(t, clientUser, identity.RoleUser)),
		chatclient.Options{SelfID: clientUser})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	env.join(t, client, roomID, 1)

	msg, err := client.Send(context.Background(), roomID, "hello there", "user")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected authoritative id in returned message")
	}

	// The room broadcast may land after Send returns; the result must still
	// be a single non-pending copy.
	waitFor(t, func() bool {
		msgs := client.Messages(roomID)
		return len(msgs) == 1 && !msgs[0].Pending
	}, "local view never converged to one authoritative copy")

	got := client.Messages(roomID)[0]
	if got.ID != msg.ID || got.Text != "hello there" {
		t.Fatalf("unexpected local copy: %+v", got)
	}
}

func TestPeerReceivesSentMessage(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	sender, err := chatclient.Dial(context.Background(),
		env.wsURL("?token="+clientToken(t, clientUser, identity.RoleUser)),
		chatclient.Options{SelfID: clientUser})
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	defer sender.Close()

	peer, err := chatclient.Dial(context.Background(),
		env.wsURL("?dtoken="+clientToken(t, clientDoctor, identity.RoleDoctor)),
		chatclient.Options{SelfID: clientDoctor})
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	defer peer.Close()

	env.join(t, sender, roomID, 1)
	env.join(t, peer, roomID, 2)

	msg, err := sender.Send(context.Background(), roomID, "ping", "user")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		msgs := peer.Messages(roomID)
		return len(msgs) == 1 && msgs[0].ID == msg.ID
	}, "peer never observed the message")

	got := peer.Messages(roomID)[0]
	if got.Pending || got.SenderID != clientUser {
		t.Fatalf("unexpected peer copy: %+v", got)
	}
}

// A rejected send rolls the optimistic copy back instead of leaving a ghost.
func TestRejectedSendRollsBack(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	// Anonymous connections may join the room but not send.
	guest, err := chatclient.Dial(context.Background(), env.wsURL(""),
		chatclient.Options{SelfID: ""})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer guest.Close()
	env.join(t, guest, roomID, 1)

	_, err = guest.Send(context.Background(), roomID, "should fail", "user")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "Authentication required") {
		t.Fatalf("unexpected error: %v", err)
	}

	if msgs := guest.Messages(roomID); len(msgs) != 0 {
		t.Fatalf("expected rollback, still holding %d messages", len(msgs))
	}
}

func TestMessageDeletedDropsLocalCopy(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	var deletedID string
	done := make(chan struct{})
	client, err := chatclient.Dial(context.Background(),
		env.wsURL("?token="+clientToken(t, clientUser, identity.RoleUser)),
		chatclient.Options{
			SelfID: clientUser,
			Events: chatclient.Events{
				OnMessageDeleted: func(messageID, _ string) {
					deletedID = messageID
					close(done)
				},
			},
		})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	env.join(t, client, roomID, 1)

	msg, err := client.Send(context.Background(), roomID, "retract me", "user")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	env.hub.Broadcast(roomID, relay.Event{
		Event: relay.EventMessageDeleted,
		Data:  relay.MessageDeleted{MessageID: msg.ID, ConversationID: roomID},
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("deletion callback never fired")
	}
	if deletedID != msg.ID {
		t.Fatalf("expected deletion of %s, got %s", msg.ID, deletedID)
	}
	waitFor(t, func() bool {
		return len(client.Messages(roomID)) == 0
	}, "local copy never dropped")
}

func TestConversationDeletedTearsDownLocalState(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	done := make(chan struct{})
	client, err := chatclient.Dial(context.Background(),
		env.wsURL("?token="+clientToken(t, clientUser, identity.RoleUser)),
		chatclient.Options{
			SelfID: clientUser,
			Events: chatclient.Events{
				OnConversationDeleted: func(_ string) { close(done) },
			},
		})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	env.join(t, client, roomID, 1)

	if _, err := client.Send(context.Background(), roomID, "soon gone", "user"); err != nil {
		t.Fatalf("send: %v", err)
	}

	env.hub.Broadcast(roomID, relay.Event{
		Event: relay.EventConversationDeleted,
		Data:  relay.ConversationDeleted{ConversationID: roomID},
	})
	env.hub.DropRoom(roomID)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("teardown callback never fired")
	}
	if client.Active() != "" {
		t.Fatalf("expected no active conversation, got %s", client.Active())
	}
	if msgs := client.Messages(roomID); len(msgs) != 0 {
		t.Fatalf("expected cleared view, got %d messages", len(msgs))
	}
}

func TestTypingCallback(t *testing.T) {
	env := newClientEnv(t)
	conv := env.conversation(t)
	roomID := conv.ID.Hex()

	got := make(chan string, 1)
	listener, err := chatclient.Dial(context.Background(),
		env.wsURL("?dtoken="+clientToken(t, clientDoctor, identity.RoleDoctor)),
		chatclient.Options{
			SelfID: clientDoctor,
			Events: chatclient.Events{
				OnTyping: func(_, senderID string) { got <- senderID },
			},
		})
	if err != nil {
		t.Fatalf("dial listener: %v", err)
	}
	defer listener.Close()

	typer, err := chatclient.Dial(context.Background(),
		env.wsURL("?token="+clientToken(t, clientUser, identity.RoleUser)),
		chatclient.Options{SelfID: clientUser})
	if err != nil {
		t.Fatalf("dial typer: %v", err)
	}
	defer typer.Close()

	env.join(t, listener, roomID, 1)
	env.join(t, typer, roomID, 2)

	if err := typer.Typing(roomID); err != nil {
		t.Fatalf("typing: %v", err)
	}

	select {
	case senderID := <-got:
		if senderID != clientUser {
			t.Fatalf("expected typing from %s, got %s", clientUser, senderID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("typing callback never fired")
	}
}
