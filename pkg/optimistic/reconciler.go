// Package optimistic reconciles a sending client's locally-fabricated
// pending messages with the authoritative copies the relay echoes back. A
// pending message carries a client-generated correlation id; the relay echoes
// it in both the ack and the room broadcast, so matching is exact whenever
// the id survives the round trip. The sender+text time-window heuristic
// remains as a fallback for clients that do not supply one, with the window
// and matched fields explicit configuration rather than ad hoc constants.
package optimistic

import (
	"sync"
	"time"
)

// DefaultWindow bounds the heuristic fallback match.
const DefaultWindow = 5 * time.Second

type Config struct {
	// Window is the maximum distance between a pending message's send time
	// and an authoritative message's createdAt for the fallback match.
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Pending is one optimistic message awaiting its authoritative echo.
type Pending struct {
	ClientID string
	SenderID string
	Text     string
	SentAt   time.Time
}

// Reconciler tracks pending messages for one connection.
type Reconciler struct {
	cfg Config

	mu      sync.Mutex
	pending []Pending
}

func New(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg.withDefaults()}
}

// Add registers an optimistic message.
func (r *Reconciler) Add(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

// Observe matches an authoritative message against the pending set and, on a
// match, retires and returns the pending entry's client id. Exact client-id
// matches win; otherwise the earliest pending entry with the same sender and
// text inside the window is taken, so duplicate rapid sends of identical text
// resolve first-in-first-out.
func (r *Reconciler) Observe(clientID, senderID, text string, createdAt time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clientID != "" {
		for i, p := range r.pending {
			if p.ClientID == clientID {
				r.retire(i)
				return p.ClientID, true
			}
		}
	}

	for i, p := range r.pending {
		if p.SenderID != senderID || p.Text != text {
			continue
		}
		if gap := createdAt.Sub(p.SentAt); gap < -r.cfg.Window || gap > r.cfg.Window {
			continue
		}
		r.retire(i)
		return p.ClientID, true
	}
	return "", false
}

// Fail drops a pending entry whose send was rejected.
func (r *Reconciler) Fail(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.pending {
		if p.ClientID == clientID {
			r.retire(i)
			return true
		}
	}
	return false
}

// PendingCount reports the number of unreconciled messages.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// retire must run under r.mu.
func (r *Reconciler) retire(i int) {
	r.pending = append(r.pending[:i:i], r.pending[i+1:]...)
}
