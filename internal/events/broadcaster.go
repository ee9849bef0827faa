// Package events fans out "file tree changed" notifications to the live
// observers of each tenant, over SSE or WebSocket.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
)

// EventTreeChanged is the only event type: something under the tenant root changed.
const EventTreeChanged = "tree_changed"

// Transport names, used as the metrics label.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

const subscriberBuffer = 64

// Event is one coalesced change notification. Op names the request that
// caused it and Paths lists the tenant-relative paths it touched.
type Event struct {
	Type      string   `json:"type"`
	Op        string   `json:"op,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Broadcaster manages subscribers per tenant and publishes events to them.
// A tenant only ever sees its own events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]string // tenant -> channel -> transport
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[chan Event]string),
	}
}

// Subscribe adds a subscriber for tenant and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(tenant, transport string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	subs := b.subscribers[tenant]
	if subs == nil {
		subs = make(map[chan Event]string)
		b.subscribers[tenant] = subs
	}
	subs[ch] = transport
	b.mu.Unlock()
	b.updateGauge(transport)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(tenant string, ch chan Event) {
	b.mu.Lock()
	subs := b.subscribers[tenant]
	transport, ok := subs[ch]
	if ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, tenant)
		}
	}
	b.mu.Unlock()
	if ok {
		b.updateGauge(transport)
	}
}

// Publish sends an event to every subscriber of tenant. Non-blocking: the
// event is dropped for slow consumers.
func (b *Broadcaster) Publish(tenant string, event Event) {
	if event.Type == "" {
		event.Type = EventTreeChanged
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[tenant] {
		select {
		case ch <- event:
			metrics.RecordNotification(true)
		default:
			metrics.RecordNotification(false)
		}
	}
}

// NotifyChange publishes a tree-changed event for tenant. It never blocks
// and never fails, so file operations can call it unconditionally.
func (b *Broadcaster) NotifyChange(_ context.Context, tenant, op string, paths []string) {
	b.Publish(tenant, Event{Type: EventTreeChanged, Op: op, Paths: paths})
}

// Count returns the number of subscribers for tenant.
func (b *Broadcaster) Count(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[tenant])
}

// Total returns the number of subscribers across all tenants.
func (b *Broadcaster) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

func (b *Broadcaster) updateGauge(transport string) {
	b.mu.RLock()
	n := 0
	for _, subs := range b.subscribers {
		for _, t := range subs {
			if t == transport {
				n++
			}
		}
	}
	b.mu.RUnlock()
	metrics.SetSubscribers(transport, n)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
