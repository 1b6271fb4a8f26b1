// Package live fans store changes out to subscribers and bridges external
// sentiment pushes into the dashboard: a pub/sub hub, a WebSocket push server
// and a reconnecting WebSocket feed client.
package live

import (
	"sync"
	"time"

	"marketdash/internal/domain"
)

// Source names the store an event came from.
type Source string

const (
	SourceMarket    Source = "market"
	SourceSentiment Source = "sentiment"
)

// Event kinds.
const (
	KindLoading     = "loading"
	KindError       = "error"
	KindMarket      = "market"
	KindInstruments = "instruments"
	KindDirectory   = "directory"
	KindDetail      = "detail"
	KindPrediction  = "prediction"
	KindRecords     = "records"
	KindFilter      = "filter"
)

// Event is emitted to subscribers after a store mutation.
type Event struct {
	Source Source        `json:"source"`
	Kind   string        `json:"kind"`
	Market domain.Market `json:"market,omitempty"`
	At     time.Time     `json:"at"`
}

// Hub is a non-blocking pub/sub fan-out. Slow subscribers miss events rather
// than stall publishers.
type Hub struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish sends evt to every subscriber without blocking. A nil hub is a
// no-op.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
}

// Subscribe creates a new subscription channel buffered to bufSize.
func (h *Hub) Subscribe(bufSize int) (id int, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id = h.nextSubID
	h.nextSubID++
	c := make(chan Event, bufSize)
	h.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
