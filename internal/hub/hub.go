// Package hub fans history change events out to subscribers.
// It is transport-agnostic: subscribers register, receive events via Send,
// and the history service publishes. gRPC Watch streams are the main
// subscribers.
package hub

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names a change to the history.
type EventType string

const (
	EventInserted EventType = "inserted"
	EventBubbled  EventType = "bubbled"
	EventPinned   EventType = "pinned"
	EventUnpinned EventType = "unpinned"
	EventRemoved  EventType = "removed"
	EventCleared  EventType = "cleared"
	EventKeywords EventType = "keywords"
	EventMonitor  EventType = "monitoring"
)

// Event is a history change delivered to subscribers.
type Event struct {
	Type EventType `json:"type"`
	// SelectionID is empty for events that affect the whole history.
	SelectionID string    `json:"selection_id,omitempty"`
	At          time.Time `json:"at"`
}

// SubscriberInfo describes a subscriber.
type SubscriberInfo struct {
	ID          string      `json:"id"`
	Addr        string      `json:"addr"`
	ConnectedAt time.Time   `json:"connected_at"`
	Types       []EventType `json:"types,omitempty"`
}

// Subscriber is anything that can receive history events from the hub.
type Subscriber interface {
	ID() string
	Info() SubscriberInfo
	// Send delivers an event to the subscriber. Must be non-blocking.
	Send(Event)
}

// Hub routes history events to all registered subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	latest *Event
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]Subscriber)}
}

// Register adds a subscriber.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	total := len(h.subs)
	h.mu.Unlock()

	info := s.Info()
	slog.Info("subscriber registered", "subscriber", s.ID(), "addr", info.Addr, "total", total)
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID())
	total := len(h.subs)
	h.mu.Unlock()

	slog.Info("subscriber unregistered", "subscriber", s.ID(), "total", total)
}

// Publish records ev as the latest event and delivers it to every subscriber
// whose type filter accepts it.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	h.latest = &ev
	var targets []Subscriber
	for _, s := range h.subs {
		if accepts(s.Info().Types, ev.Type) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.Send(ev)
	}
}

// Latest returns the most recently published event.
func (h *Hub) Latest() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Event{}, false
	}
	return *h.latest, true
}

// Subscribers returns a snapshot of all current subscriber metadata.
func (h *Hub) Subscribers() []SubscriberInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SubscriberInfo, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s.Info())
	}
	return out
}

// accepts reports whether types admits t. An empty filter accepts everything.
func accepts(types []EventType, t EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ChanSubscriber is a Subscriber backed by a buffered channel. Events that
// do not fit are dropped.
type ChanSubscriber struct {
	info SubscriberInfo
	ch   chan Event
}

// NewChanSubscriber returns a subscriber with room for buf pending events.
func NewChanSubscriber(id, addr string, types []EventType, buf int) *ChanSubscriber {
	return &ChanSubscriber{
		info: SubscriberInfo{ID: id, Addr: addr, ConnectedAt: time.Now(), Types: types},
		ch:   make(chan Event, buf),
	}
}

func (c *ChanSubscriber) ID() string           { return c.info.ID }
func (c *ChanSubscriber) Info() SubscriberInfo { return c.info }

// Send implements Subscriber.
func (c *ChanSubscriber) Send(ev Event) {
	select {
	case c.ch <- ev:
	default:
		slog.Warn("subscriber channel full, dropping event", "subscriber", c.info.ID, "type", ev.Type)
	}
}

// Events returns the channel events are delivered on.
func (c *ChanSubscriber) Events() <-chan Event { return c.ch }
