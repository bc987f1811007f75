package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/docport/chat-relay/internal/model/identity"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
	"github.com/docport/chat-relay/internal/store"
)

const (
	routerSecret = "router-secret"
	routerUser   = "66e9a1f2c3d4e5f6a7b8c911"
	routerDoctor = "66e9a1f2c3d4e5f6a7b8c912"
)

type stackEnv struct {
	srv *httptest.Server
	svc *chatservice.Service
	hub *relay.Hub
}

func newStackEnv(t *testing.T) *stackEnv {
	t.Helper()

	svc := chatservice.NewService(store.NewMemoryConversations(), store.NewMemoryMessages(), store.NewMemoryProfiles(), nil)
	hub := relay.NewHub(nil)
	router := NewRouter(svc, hub, RouterConfig{JWTSecret: routerSecret}, nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &stackEnv{srv: srv, svc: svc, hub: hub}
}

func stackToken(t *testing.T, id string, role identity.Role) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   id,
		"role": string(role),
	}).SignedString([]byte(routerSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *stackEnv) request(t *testing.T, method, path string, body any, tokenHeader, token string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (e *stackEnv) dialAndJoin(t *testing.T, tokenParam, token, roomID string, want int) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/ws?" + tokenParam + "=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(map[string]any{
		"event": "chat:join",
		"data":  map[string]string{"conversationId": roomID},
	}); err != nil {
		t.Fatalf("join: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for e.hub.Members(roomID) < want {
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", roomID, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readStackFrame(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 16; i++ {
		var f struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Event == event {
			return f.Data
		}
	}
	t.Fatalf("no %s frame received", event)
	return nil
}

func TestHealthBanner(t *testing.T) {
	env := newStackEnv(t)

	resp, raw := env.request(t, http.MethodGet, "/", nil, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(raw) != "server is running" {
		t.Fatalf("unexpected banner: %q", raw)
	}
}

// A REST message delete reaches live room members as a broadcast.
func TestRestDeleteMessageBroadcasts(t *testing.T) {
	env := newStackEnv(t)
	conv, err := env.svc.GetOrCreate(context.Background(), routerUser, routerDoctor)
	if err != nil {
		t.Fatalf("GetOrCreate err: %v", err)
	}
	roomID := conv.ID.Hex()
	userIdent := identity.Identity{ID: routerUser, Role: identity.RoleUser}
	msg, err := env.svc.Send(context.Background(), userIdent, roomID, "retract me", identity.RoleUser, "")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	doctorConn := env.dialAndJoin(t, "dtoken", stackToken(t, routerDoctor, identity.RoleDoctor), roomID, 1)

	resp, raw := env.request(t, http.MethodDelete, "/api/chat/message",
		map[string]string{"messageId": msg.ID.Hex()},
		"token", stackToken(t, routerUser, identity.RoleUser))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}

	data := readStackFrame(t, doctorConn, "chat:message-deleted")
	var deleted relay.MessageDeleted
	if err := json.Unmarshal(data, &deleted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if deleted.MessageID != msg.ID.Hex() || deleted.ConversationID != roomID {
		t.Fatalf("unexpected payload: %+v", deleted)
	}
}

// A REST conversation delete broadcasts a teardown and empties the room.
func TestRestDeleteConversationTearsDownRoom(t *testing.T) {
	env := newStackEnv(t)
	conv, err := env.svc.GetOrCreate(context.Background(), routerUser, routerDoctor)
	if err != nil {
		t.Fatalf("GetOrCreate err: %v", err)
	}
	roomID := conv.ID.Hex()

	userConn := env.dialAndJoin(t, "token", stackToken(t, routerUser, identity.RoleUser), roomID, 1)
	doctorConn := env.dialAndJoin(t, "dtoken", stackToken(t, routerDoctor, identity.RoleDoctor), roomID, 2)

	resp, raw := env.request(t, http.MethodDelete, "/api/chat/doctor/conversation",
		map[string]string{"conversationId": roomID},
		"dtoken", stackToken(t, routerDoctor, identity.RoleDoctor))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}

	for _, conn := range []*websocket.Conn{userConn, doctorConn} {
		data := readStackFrame(t, conn, "chat:conversation-deleted")
		var deleted relay.ConversationDeleted
		if err := json.Unmarshal(data, &deleted); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if deleted.ConversationID != roomID {
			t.Fatalf("unexpected payload: %+v", deleted)
		}
	}

	if env.hub.Members(roomID) != 0 {
		t.Fatalf("expected empty room, got %d members", env.hub.Members(roomID))
	}

	// A repeated delete finds nothing and never broadcasts a second teardown.
	resp, _ = env.request(t, http.MethodDelete, "/api/chat/doctor/conversation",
		map[string]string{"conversationId": roomID},
		"dtoken", stackToken(t, routerDoctor, identity.RoleDoctor))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
	_ = userConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var extra struct {
		Event string `json:"event"`
	}
	if err := userConn.ReadJSON(&extra); err == nil {
		t.Fatalf("expected no further frames, got %s", extra.Event)
	}

	if _, err := env.svc.Conversation(context.Background(),
		identity.Identity{ID: routerUser, Role: identity.RoleUser}, roomID); err == nil {
		t.Fatal("expected conversation to be gone")
	}
}
