package app

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published on the hub.
const (
	EventState  = "state"  // remote connection state changed
	EventValue  = "value"  // a slot value changed
	EventBridge = "bridge" // control surface connected or disconnected
	EventButton = "button" // control surface button pressed or released
)

type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

type StateEvent struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Error    string `json:"error,omitempty"`
}

type BridgeEvent struct {
	Connected bool   `json:"connected"`
	PeerID    string `json:"peer_id"`
	PeerAddr  string `json:"peer_addr,omitempty"`
}

type ButtonEvent struct {
	ButtonId string `json:"button_id"`
	Pressed  bool   `json:"pressed"`
}

// Hub fans events out to subscriber channels. Slow subscribers lose events
// instead of blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = struct{}{}
	slog.Debug("Event subscriber added", "subscribers", len(h.subs))
	return ch
}

// Unsubscribe removes ch and closes it.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		slog.Warn("Unsubscribe of unknown event channel")
		return
	}
	delete(h.subs, ch)
	close(ch)
	slog.Debug("Event subscriber removed", "subscribers", len(h.subs))
}

func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Time: time.Now(), Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropped event for slow subscriber", "type", eventType)
		}
	}
}
