// Package bus is a small in-process pub/sub bus used for runtime
// notifications about storage mutations. Buses live on runtime world objects
// only; they are never serialized and every load constructs a fresh one.
package bus

import (
	"strings"
	"sync"
)

const subscriberBuffer = 100

// Event is one notification published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Storage notification topics.
const (
	TopicWorldUpdated      = "world.updated"
	TopicWorldDeleted      = "world.deleted"
	TopicChatRenamed       = "chat.renamed"
	TopicChatDeleted       = "chat.deleted"
	TopicEventAppended     = "event.appended"
	TopicQueueStateChanged = "queue.state_changed"
)

// Subscription is a live subscription; receive from Ch until Unsubscribe.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel events are delivered on.
func (s *Subscription) Ch() <-chan Event { return s.ch }

// Bus fans events out to subscribers by topic prefix. Delivery is
// non-blocking: a subscriber with a full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for events whose topic starts with prefix. An empty
// prefix matches everything.
func (b *Bus) Subscribe(prefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: prefix,
		ch:     make(chan Event, subscriberBuffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
