package observer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/alexsmy/bot-29-sub000/internal/metrics"
)

// Broker is the in-process fan-out used by the admin event stream.
// A subscriber whose buffer is full misses the event; the publisher never waits.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	log    *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(log *zap.Logger) *Broker {
	return &Broker{
		subs: make(map[uint64]chan Event),
		log:  log.Named("observer"),
	}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned cancel func unregisters it and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			metrics.ObserverEventsDropped.WithLabelValues("broker").Inc()
			b.log.Debug("subscriber buffer full, event dropped",
				zap.Uint64("subscriber", id),
				zap.String("type", string(e.Type)))
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
