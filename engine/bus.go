package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ftahirops/hostwatch/model"
)

// Subscription is one consumer's view of the event stream. Events arrives in
// publish order; when the consumer falls behind, the oldest queued events are
// dropped first so the stream stays fresh.
type Subscription struct {
	ID     string
	Events chan model.Event
}

// Bus fans engine events out to subscribers. Publish never blocks on a slow
// consumer: each subscriber owns a bounded queue, and on overflow the head
// is discarded to make room for the new event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	cap     int
	closed  bool
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewBus creates a bus whose subscriber queues hold up to queueCap events.
func NewBus(queueCap int, log zerolog.Logger) *Bus {
	if queueCap <= 0 {
		queueCap = 64
	}
	return &Bus{subs: make(map[string]*Subscription), cap: queueCap, log: log}
}

// Subscribe registers a new consumer. The returned channel is closed by
// Unsubscribe or CloseAll.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		Events: make(chan model.Event, b.cap),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.Events)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its channel. Unknown IDs are a
// no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.Events)
	}
}

// Publish delivers an event to every subscriber, evicting each laggard's
// oldest queued event on overflow.
func (b *Bus) Publish(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.Events <- ev:
			continue
		default:
		}
		select {
		case <-sub.Events:
			b.dropped.Add(1)
			b.log.Debug().Str("subscriber", id).Msg("slow subscriber, dropped oldest event")
		default:
		}
		select {
		case sub.Events <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total events discarded across all subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll closes every subscriber channel and rejects further publishes.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.Events)
	}
}
