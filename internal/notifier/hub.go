package notifier

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hub is the live channel: an in-memory, per-owner fanout.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Events are only ever delivered to subscribers registered for the event's
// owner; there is no broadcast path.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan Event // owner id -> sub id -> channel
	seq  atomic.Uint64
}

// NewHub returns an empty hub. It owns no background goroutines.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan Event{}}
}

// Publish delivers e to the owner's subscribers, dropping on full buffers.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	h.mu.RLock()
	chs := make([]chan Event, 0, len(h.subs[e.OwnerID]))
	for _, ch := range h.subs[e.OwnerID] {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently and
		// the channel closes, recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a listener for one owner's events.
func (h *Hub) Subscribe(ownerID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	m, ok := h.subs[ownerID]
	if !ok {
		m = map[uint64]chan Event{}
		h.subs[ownerID] = m
	}
	m[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if m, ok := h.subs[ownerID]; ok {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, ownerID)
				}
			}
			h.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers reports how many live listeners an owner currently has.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}
