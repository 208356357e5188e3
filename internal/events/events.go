// Package events carries the bridge's outbound event surface. The UI
// layer (and tests) subscribe to a Bus and receive typed events in
// emission order.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Type identifies an event on the bridge-to-UI surface.
type Type string

const (
	TypeReady               Type = "ready"
	TypeMarketData          Type = "market-data"
	TypeSubscriptionCreated Type = "subscription-created"
	TypeSubscriptionError   Type = "subscription-error"
	TypeReconnectionFailed  Type = "reconnection-failed"
	TypeServerExit          Type = "server-exit"
)

// Event is a single bridge event. Exactly one payload field is set,
// selected by Type.
type Event struct {
	Type Type

	MarketData          *MarketData
	SubscriptionCreated *SubscriptionCreated
	SubscriptionError   *SubscriptionError
	ReconnectionFailed  *ReconnectionFailed
	ServerExit          *ServerExit
}

// MarketData is one fan-out delivery to a subscriber window.
type MarketData struct {
	WindowID       string
	SubscriptionID string
	Stream         string
	Data           json.RawMessage
}

// SubscriptionCreated announces a successful subscribe.
type SubscriptionCreated struct {
	SubscriptionID string
	WindowID       string
	Symbols        []string
}

// SubscriptionError reports a per-subscription failure.
type SubscriptionError struct {
	SubscriptionID string
	Err            string
}

// ReconnectionFailed is terminal: the supervisor gave up on a client.
type ReconnectionFailed struct {
	ClientID string
	Attempts int
}

// ServerExit reports loss of the upstream data server.
type ServerExit struct {
	Code   int
	Signal string
}

// Bus fans events out to subscribers. Each subscriber owns a buffered
// channel; delivery preserves emission order per subscriber. A full
// subscriber channel drops the event with a warning rather than
// blocking the dispatch path.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool

	bufferSize int
}

// NewBus creates an event bus. bufferSize is the per-subscriber channel
// capacity.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 1 {
		bufferSize = 256
	}
	return &Bus{
		logger:     logger,
		subs:       make(map[int]chan Event),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new listener. The returned cancel func detaches
// the listener and closes its channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every current subscriber.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event subscriber buffer full, dropping event", "type", ev.Type)
		}
	}
}

// Close detaches all subscribers and closes their channels. Further
// Emit calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
