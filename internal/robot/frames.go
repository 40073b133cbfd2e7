package robot

import (
	"sync"

	"github.com/google/uuid"
)

// frameHub fans camera frames out to subscribers. Each subscriber has a
// one-frame mailbox; a newer frame replaces an unread one.
type frameHub struct {
	mu          sync.Mutex
	subscribers map[string]chan Frame
	closing     bool
}

func newFrameHub() *frameHub {
	return &frameHub{subscribers: make(map[string]chan Frame)}
}

func (h *frameHub) subscribe() (string, <-chan Frame) {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

func (h *frameHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// publish never blocks. Only publish drains the mailboxes besides the reader,
// and it holds h.mu, so the second send cannot block.
func (h *frameHub) publish(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- f:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}

func (h *frameHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *frameHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
