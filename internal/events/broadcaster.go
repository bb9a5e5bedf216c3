package events

import (
	"sync"
)

// Subscriber represents a channel that receives events.
type Subscriber chan Event

// Broadcaster fans events out to the presentation layer and bridges.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The channel has a buffer to prevent blocking on slow clients.
func (b *Bus) Subscribe() Subscriber {
	ch := make(Subscriber, 64)
	b.broadcaster.mu.Lock()
	b.broadcaster.subscribers[ch] = struct{}{}
	b.broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
// Unsubscribing twice is a no-op.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.broadcaster.mu.Lock()
	defer b.broadcaster.mu.Unlock()
	if _, ok := b.broadcaster.subscribers[sub]; !ok {
		return
	}
	delete(b.broadcaster.subscribers, sub)
	close(sub)
}

// broadcast sends an event to all subscribers.
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber.
func (br *Broadcaster) broadcast(e Event) {
	br.mu.RLock()
	defer br.mu.RUnlock()

	for sub := range br.subscribers {
		select {
		case sub <- e:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.broadcaster.mu.RLock()
	defer b.broadcaster.mu.RUnlock()
	return len(b.broadcaster.subscribers)
}

// CloseAllSubscribers closes every subscriber channel. Called on shutdown.
func (b *Bus) CloseAllSubscribers() {
	b.broadcaster.mu.Lock()
	defer b.broadcaster.mu.Unlock()
	for sub := range b.broadcaster.subscribers {
		close(sub)
	}
	b.broadcaster.subscribers = make(map[Subscriber]struct{})
}
