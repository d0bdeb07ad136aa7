// Package broadcast fans values out to subscribers without letting a slow
// subscriber block the publisher.
package broadcast

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-ranker/internal/logger"
)

// Hub delivers every published value to each subscriber's buffered channel.
// A subscriber whose buffer is full misses that value.
type Hub[T any] struct {
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	buffer  int
	closed  bool
	log     logger.Module
}

// NewHub creates a hub whose subscriber channels hold buffer values.
func NewHub[T any](name string, buffer int) *Hub[T] {
	return &Hub[T]{
		clients: make(map[int]chan T),
		buffer:  max(buffer, 1),
		log:     logger.For(name),
	}
}

// Subscribe adds a client and returns its ID and receive channel. On a
// closed hub the channel is already closed.
func (h *Hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch

	h.log.Debugf("Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.log.Debugf("Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// Publish offers v to every client and returns how many were skipped
// because their buffer was full.
func (h *Hub[T]) Publish(v T) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		select {
		case ch <- v:
		default:
			dropped++
			h.log.Debugf("Client #%d too slow, value skipped", id)
		}
	}
	return dropped
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}
