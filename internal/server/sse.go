package server

import (
	"encoding/json"
	"sync"

	"clawflow/internal/logging"
)

// subscriberBuffer bounds how far one slow SSE client may fall behind before
// events are dropped for it.
const subscriberBuffer = 64

// Broadcaster fans events out to every SSE subscriber. Writes are
// best-effort: a slow subscriber loses events rather than blocking siblings.
type Broadcaster struct {
	subscribers map[chan []byte]struct{}
	mu          sync.Mutex
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber channel.
func (b *Broadcaster) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber.
func (b *Broadcaster) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Broadcast serializes event and queues it to every subscriber.
func (b *Broadcaster) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error("failed to marshal SSE event", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- data:
		default:
			// Subscriber buffer full; drop for this client.
		}
	}
}
