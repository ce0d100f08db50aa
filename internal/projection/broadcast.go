// Package projection provides the Projection Cache (bounded recent-events
// list and lazily rebuilt world snapshot) and the Broadcast Bus (lossy
// pub/sub fanout of committed events to SSE subscribers).
//
// Broadcast is grounded directly on the teacher's internal/engine/
// simulation.go Subscribe/Unsubscribe/EmitEvent: a buffered channel per
// subscriber with a non-blocking send that drops the event when the
// subscriber's buffer is full, rather than blocking the tick engine on a
// slow SSE client (spec.md §4.3, §5 "Broadcast publish never blocks").
package projection

import (
	"sync"
	"time"

	"github.com/talgya/crossworlds/internal/eventlog"
	"github.com/talgya/crossworlds/internal/tuning"
)

// subscriberBuffer is the per-subscriber channel depth; once full, new
// events are dropped for that subscriber rather than awaited.
const subscriberBuffer = 64

// Broadcast fans out committed events to live subscribers (spec.md §4.3).
type Broadcast struct {
	mu        sync.RWMutex
	subs      map[int]chan eventlog.Event
	nextSubID int
}

// NewBroadcast constructs an empty bus.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]chan eventlog.Event)}
}

// Subscribe registers a new subscriber and returns its id and channel.
// Callers should send a synthetic "connected" frame themselves before
// reading from the channel, since Broadcast only carries committed
// WorldEvents (spec.md §4.3, "connected is the first event delivered").
func (b *Broadcast) Subscribe() (int, <-chan eventlog.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	ch := make(chan eventlog.Event, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcast) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish fans e out to every subscriber. Never blocks: a subscriber whose
// buffer is full simply misses this event (spec.md §5).
func (b *Broadcast) Publish(e eventlog.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports how many live subscribers the bus has, used by
// /api/status.
func (b *Broadcast) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PingInterval is exported for the API layer's SSE keepalive loop.
const PingInterval = tuning.PingInterval * time.Second
