// Package events fans deployment lifecycle events out to live subscribers
// (the /events SSE stream) and keeps a short replay buffer for late clients.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the receiver.
const (
	WebhookRejected = "webhook.rejected"
	WebhookIgnored  = "webhook.ignored"
	DeployStarted   = "deploy.started"
	DeploySucceeded = "deploy.succeeded"
	DeployFailed    = "deploy.failed"
	DeployBusy      = "deploy.busy"
	HistoryPruned   = "history.pruned"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub with a ring buffer.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow subscribers drop events rather than stall a deployment.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// unregisters and closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
