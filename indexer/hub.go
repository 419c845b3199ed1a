package indexer

import (
	"context"
	"sync"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/observability"
)

const subscriberBuffer = 64

// Hub fans committed events out to live subscribers. Slow subscribers miss
// events rather than block publishers; they can catch up from the store.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan EventRecord
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan EventRecord)}
}

// Subscribe registers a subscriber until cancel is called or ctx ends.
func (h *Hub) Subscribe(ctx context.Context) (<-chan EventRecord, func()) {
	updates := make(chan EventRecord, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	observability.Events().SetSubscribers(len(h.subs))
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			observability.Events().SetSubscribers(len(h.subs))
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel
}

// Publish delivers record to every subscriber without blocking.
func (h *Hub) Publish(record EventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- record:
		default:
			observability.Events().RecordDropped("websocket")
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
