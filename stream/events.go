// Package stream provides the shared streaming plumbing for venue
// adapters: a websocket session worker with reconnection, a subscription
// registry replayed after reconnects, and a bus carrying the fixed
// normalized event vocabulary.
package stream

import (
	"sync"

	"venueflow/logger"
)

// EventType names a normalized event. The vocabulary is closed: adapters
// never emit anything outside this set.
type EventType string

const (
	EventTicker         EventType = "ticker"
	EventOrderBook      EventType = "orderbook"
	EventTrade          EventType = "trade"
	EventKline          EventType = "kline"
	EventOrderUpdate    EventType = "orderUpdate"
	EventAccountUpdate  EventType = "accountUpdate"
	EventPositionUpdate EventType = "positionUpdate"
)

// Event is one normalized streaming message. Payload holds the canonical
// model for the event type: models.Ticker for EventTicker, models.Order
// for EventOrderUpdate, and so on.
type Event struct {
	Type    EventType
	Venue   string
	Symbol  string
	Payload interface{}
}

// Handler consumes events. Handlers for one adapter run on that
// adapter's single dispatch goroutine, one event at a time.
type Handler func(Event)

// Bus fans events out to registered handlers by type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *logger.Log
}

// NewBus creates an empty event bus.
func NewBus(log *logger.Log) *Bus {
	return &Bus{handlers: make(map[EventType][]Handler), log: log}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()
}

// Publish delivers the event to every handler registered for its type.
// Delivery is synchronous on the caller's goroutine, which preserves
// arrival order within an adapter.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Type]
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
