// Package feed streams relay activity to operators over WebSocket.
package feed

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the relay.
const (
	EventInbound     = "inbound"
	EventCommand     = "command"
	EventTransition  = "transition"
	EventAnswer      = "answer"
	EventRateLimited = "rate_limited"
	EventSendFailed  = "send_failed"
)

const (
	defaultHistorySize   = 100
	subscriberBufferSize = 64
)

// Event is one relay activity record. Senders are masked before publishing.
type Event struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Type   string    `json:"type"`
	Sender string    `json:"sender,omitempty"`
	State  string    `json:"state,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Publisher accepts relay events.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Hub fans events out to subscribers and keeps a bounded history so new
// subscribers see recent activity.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	history     *eventRing
	next        int64
	nextSubID   int64
}

// NewHub creates a hub retaining up to historySize recent events.
func NewHub(historySize int) *Hub {
	return &Hub{
		subscribers: make(map[int64]chan Event),
		history:     newEventRing(historySize),
	}
}

// Publish assigns an id and timestamp and delivers the event. Subscribers
// whose buffer is full miss the event instead of blocking the relay.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	ev.ID = h.next
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.history.push(ev)

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Debug("Feed subscriber is slow, dropping event", "subscriber", id, "event_id", ev.ID)
		}
	}
}

// Subscribe registers a subscriber and returns its id, channel and a copy of
// the recent history.
func (h *Hub) Subscribe() (int64, <-chan Event, []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSubID++
	ch := make(chan Event, subscriberBufferSize)
	h.subscribers[h.nextSubID] = ch
	recent := h.history.snapshot()
	return h.nextSubID, ch, recent
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
