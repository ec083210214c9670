// Package broadcast fans table lifecycle events out to realtime subscribers.
// Delivery is best-effort: a subscriber that cannot keep up loses events
// rather than stalling the publisher.
package broadcast

import (
	"log"
	"sync"
	"time"
)

type EventType string

const (
	EventPlayerJoined EventType = "playerJoined"
	EventPlayerLeft   EventType = "playerLeft"
	EventActionTaken  EventType = "actionTaken"
	EventChatMessage  EventType = "chatMessage"
	EventTableClosed  EventType = "tableClosed"
)

// Event is one table-scoped notification. Fields beyond Type, TableID and
// Timestamp are populated per event type.
type Event struct {
	Type        EventType `json:"type"`
	TableID     string    `json:"table_id"`
	UserID      uint64    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Position    int       `json:"position,omitempty"`
	Action      string    `json:"action,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Text        string    `json:"text,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   int64     `json:"ts_ms"`
}

// Subscription is one subscriber's event feed for a single table. C is closed
// when the subscription is cancelled or the hub shuts down.
type Subscription struct {
	C       <-chan Event
	tableID string
	ch      chan Event
	once    sync.Once
}

const DefaultBuffer = 64

// Hub routes events by table ID. One mutex guards the whole routing map;
// publishing holds it for the delivery loop so events for a single table
// reach each subscriber in publish order.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a feed for a table. An unknown table ID is accepted:
// the feed simply stays silent until events arrive, which lets clients
// subscribe before the create call returns.
func (h *Hub) Subscribe(tableID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, tableID: tableID, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	set, ok := h.subs[tableID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[tableID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the feed and closes its channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.subs[sub.tableID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.tableID)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers an event to every subscriber of its table. Sends are
// non-blocking: a full buffer drops the event for that subscriber only.
func (h *Hub) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs[event.TableID] {
		select {
		case sub.ch <- event:
		default:
			h.dropped++
			log.Printf("[Broadcast] dropping %s event for slow subscriber on table %s", event.Type, event.TableID)
		}
	}
}

// Dropped reports how many events were discarded against full subscriber
// buffers since the hub started.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// SubscriberCount reports the live feeds for one table.
func (h *Hub) SubscriberCount(tableID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[tableID])
}

// Close shuts the hub down and closes every subscriber channel. Publishes
// after Close are dropped silently.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}
