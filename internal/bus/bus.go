package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"execpipe/internal/obs"
	"execpipe/internal/schema"
)

var (
	ErrBusClosed   = errors.New("bus closed")
	ErrBadCapacity = errors.New("subscription capacity must be > 0")
)

// Topic names a logical stream on the bus.
type Topic string

// Event is the unit passed through the in-memory bus. Payloads are
// forwarded by value and never mutated after publish.
type Event struct {
	Header schema.EventHeader
	Tick   schema.Tick
	Order  schema.Order
	Trade  schema.Trade
	Venue  schema.VenueHealth
}

// Subscription is a consumer's receive handle. The bus owns the
// subscription record; consumers only read from C.
type Subscription struct {
	topic Topic
	ch    chan Event
	drops uint64
}

// C returns the receive channel for the subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Drops returns how many events were dropped for this subscriber.
func (s *Subscription) Drops() uint64 {
	return atomic.LoadUint64(&s.drops)
}

// Bus fans out events to per-topic subscribers over bounded queues.
// Publishing never blocks: a full subscriber loses its oldest buffered
// event, other subscribers are unaffected.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]*Subscription
	closed  bool
	metrics *obs.Metrics
}

// New creates an empty bus. Metrics may be nil.
func New(metrics *obs.Metrics) *Bus {
	return &Bus{
		subs:    make(map[Topic][]*Subscription),
		metrics: metrics,
	}
}

// Subscribe registers a consumer with a bounded queue of the given
// capacity and returns its receive handle.
func (b *Bus) Subscribe(topic Topic, capacity int) (*Subscription, error) {
	if capacity <= 0 {
		return nil, ErrBadCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &Subscription{topic: topic, ch: make(chan Event, capacity)}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel.
// Delivery to other subscribers is not interrupted.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers the event to every current subscriber of the topic
// in publish order. It never blocks; a subscriber whose queue is full
// loses its oldest unread event and the drop is counted.
func (b *Bus) Publish(topic Topic, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.metrics.IncBusPublished(string(topic))
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- e:
			continue
		default:
		}
		// Queue full: shed the oldest event for this subscriber only.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- e:
		default:
			// A racing reader refilled the queue; the new event is shed
			// instead, which still counts as one drop.
		}
		atomic.AddUint64(&sub.drops, 1)
		b.metrics.IncBusDrop(string(topic))
	}
}

// Close terminates all subscriptions. Further publishes are no-ops and
// further subscribes fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
}
