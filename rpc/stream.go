package rpc

import (
	"sync"

	"solbox/storage/journal"
)

const subscriberBuffer = 64

// Hub fans journal entries out to live subscribers. Slow subscribers are
// dropped rather than allowed to block the journal.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan journal.Entry
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan journal.Entry)}
}

// Publish delivers entry to every subscriber.
func (h *Hub) Publish(entry journal.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- entry:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called once the subscriber is done.
func (h *Hub) Subscribe() (<-chan journal.Entry, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan journal.Entry, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			close(existing)
			delete(h.subs, id)
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
