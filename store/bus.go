package store

import (
	"slices"
	"sync"
	"time"
)

type EventKind string

const (
	EventSwipeRecorded   EventKind = "swipe.recorded"
	EventMatchCreated    EventKind = "match.created"
	EventMatchUpdated    EventKind = "match.updated"
	EventMessageAppended EventKind = "message.appended"
)

// Event is a change notification. UserIDs lists the users the change is
// about; subscribers filter on it.
type Event struct {
	Kind    EventKind `json:"kind"`
	UserIDs []string  `json:"user_ids"`
	MatchID string    `json:"match_id,omitempty"`
	Swipe   *Swipe    `json:"swipe,omitempty"`
	Match   *Match    `json:"match,omitempty"`
	Message *Message  `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Query selects events for a subscription. Empty fields match anything.
type Query struct {
	UserID  string
	MatchID string
}

func (q Query) Matches(e Event) bool {
	if q.UserID != "" && !slices.Contains(e.UserIDs, q.UserID) {
		return false
	}
	if q.MatchID != "" && q.MatchID != e.MatchID {
		return false
	}
	return true
}

// subscriberBuffer bounds each subscriber; slow readers lose events rather
// than block writers.
const subscriberBuffer = 16

// Bus fans change events out to in-process subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]Query
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan Event]Query)}
}

// Subscribe returns a channel of matching events and a cleanup function
// that closes it. Cleanup is safe to call more than once.
func (b *Bus) Subscribe(q Query) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	b.subscribers[ch] = q

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unsubscribe(ch) })
	}
	return ch, cleanup
}

func (b *Bus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish delivers e to every subscriber whose query matches.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, q := range b.subscribers {
		if !q.Matches(e) {
			continue
		}
		select {
		case ch <- e:
		default:
			// Channel is full, skip this subscriber
		}
	}
}

// SubscriberCount is used by tests and health output.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
