package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

const inboxSize = 16

var (
	// ErrNoReceiver means the tab is gone or nothing listens on it.
	ErrNoReceiver = errors.New("messaging: no receiver for tab")
	// ErrInboxFull means the receiver is not draining its inbox.
	ErrInboxFull = errors.New("messaging: receiver inbox full")
)

type inbox struct {
	id int64
	ch chan []byte
}

// Router delivers encoded messages to one inbox per tab.
type Router struct {
	mu      sync.RWMutex
	inboxes map[string]inbox
	nextID  atomic.Int64
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{inboxes: make(map[string]inbox)}
}

// Register opens the inbox for tabID, replacing any previous one. The
// returned func removes the inbox; it is a no-op if a newer registration has
// replaced it.
func (r *Router) Register(tabID string) (<-chan []byte, func()) {
	in := inbox{id: r.nextID.Add(1), ch: make(chan []byte, inboxSize)}
	r.mu.Lock()
	r.inboxes[tabID] = in
	r.mu.Unlock()

	return in.ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.inboxes[tabID]; ok && cur.id == in.id {
			delete(r.inboxes, tabID)
		}
	}
}

// Send delivers m to tabID without waiting for the receiver. The returned
// error is the only delivery signal the sender gets.
func (r *Router) Send(tabID string, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inboxes[tabID]
	if !ok {
		return ErrNoReceiver
	}
	select {
	case in.ch <- data:
		slog.Debug("message delivered", "tab_id", tabID, "type", m.Type)
		return nil
	default:
		return ErrInboxFull
	}
}

// Receivers returns the number of registered inboxes.
func (r *Router) Receivers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inboxes)
}
