package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Hub is the process-local room registry: conversation id -> the set of live
// connections subscribed to that conversation's events. It is an injectable
// value, constructed fresh per server (and per test), never a package
// singleton. A single process owns all rooms; cross-instance fan-out is the
// extension point, not this type.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		locks: make(map[string]*sync.Mutex),
		log:   log,
	}
}

// Join subscribes the connection to a room. Joining twice is a no-op.
func (h *Hub) Join(conversationID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[conversationID] = room
	}
	room[conn] = struct{}{}
}

// Leave unsubscribes the connection from one room.
func (h *Hub) Leave(conversationID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(conversationID, conn)
}

// Remove releases every room membership the connection holds. Called on
// disconnect.
func (h *Hub) Remove(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conversationID := range h.rooms {
		h.drop(conversationID, conn)
	}
}

// drop must run under h.mu.
func (h *Hub) drop(conversationID string, conn *Conn) {
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// DropRoom evicts every member; used after a conversation teardown
// broadcast so no stale membership survives the conversation.
func (h *Hub) DropRoom(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, conversationID)
}

// Members reports the current room size.
func (h *Hub) Members(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// InRoom reports whether the connection is subscribed to the room.
func (h *Hub) InRoom(conversationID string, conn *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][conn]
	return ok
}

// Broadcast fans an event out to every room member, the initiator included.
// Fan-out is synchronous over already-held connection handles; a peer whose
// buffer is full is dropped rather than allowed to stall the room.
func (h *Hub) Broadcast(conversationID string, ev Event) {
	h.fanOut(conversationID, nil, ev)
}

// BroadcastExcept fans out to every member but the given connection.
func (h *Hub) BroadcastExcept(conversationID string, except *Conn, ev Event) {
	h.fanOut(conversationID, except, ev)
}

func (h *Hub) fanOut(conversationID string, except *Conn, ev Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[conversationID]))
	for conn := range h.rooms[conversationID] {
		if conn != except {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	var stalled []*Conn
	for _, conn := range conns {
		if !conn.Enqueue(ev) {
			stalled = append(stalled, conn)
		}
	}
	for _, conn := range stalled {
		h.log.Warn("dropping stalled connection",
			zap.String("conn_id", conn.ID()),
			zap.String("conversation_id", conversationID))
		h.Remove(conn)
		conn.Close()
	}
}

// SendLock returns the per-conversation mutex serializing persist+broadcast
// for sends into that room, so members observe messages in persisted order.
// Locks are never pruned; the footprint is bounded by the conversations a
// single relay process touches.
func (h *Hub) SendLock(conversationID string) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()

	lock, ok := h.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[conversationID] = lock
	}
	return lock
}
