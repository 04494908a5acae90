package pushfanout

import (
	"sync"
	"time"
)

// Hub owns the set of connected SSE clients and the cached latest
// snapshot payload. A single writer (Broadcast, called from the
// /notify handler and from Shutdown) serializes fan-out; readers only
// ever block on their own buffered channel (spec §4.7's "single writer
// goroutine owns the set of connected clients").
type Hub struct {
	mu          sync.Mutex
	clients     map[chan []byte]struct{}
	latest      []byte
	bufferLen   int
	sendTimeout time.Duration
}

func newHub(bufferLen int, sendTimeout time.Duration) *Hub {
	return &Hub{
		clients:     make(map[chan []byte]struct{}),
		bufferLen:   bufferLen,
		sendTimeout: sendTimeout,
	}
}

// Register adds a new client and returns its receive channel.
func (h *Hub) Register() chan []byte {
	ch := make(chan []byte, h.bufferLen)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unregister removes a client. Safe to call more than once.
func (h *Hub) Unregister(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Latest returns the cached snapshot payload, or nil if none has been
// broadcast yet.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// SetLatest seeds the cache without fanning out to clients — used once
// at startup to load whatever is already on disk.
func (h *Hub) SetLatest(data []byte) {
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()
}

// Broadcast caches data as the latest snapshot and fans it out to every
// connected client. A client whose buffer is full is given sendTimeout
// to drain before it is dropped, so one stuck reader never stalls the
// others.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = data
	for ch := range h.clients {
		select {
		case ch <- data:
			continue
		default:
		}

		select {
		case ch <- data:
		case <-time.After(h.sendTimeout):
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// ClientCount reports the number of connected clients (for tests/metrics).
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
