package eventbus

import (
	"sync"
	"time"
)

// DefaultBufferSize is the default bounded per-subscriber queue depth.
const DefaultBufferSize = 256

// Bus is a per-run, multi-subscriber broadcaster. Publishers never block on
// a slow subscriber: an overflowing subscriber is disconnected with
// SlowConsumer rather than stalling the publisher, per the event bus's
// concurrency contract. Subscribers observe events from one Bus in strict
// publish order (Event.Seq is monotonically increasing).
type Bus struct {
	runID  string
	mu     sync.Mutex
	seq    uint64
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	metrics *Metrics
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// New returns a Bus for the given run id. metrics may be nil.
func New(runID string, metrics *Metrics) *Bus {
	return &Bus{
		runID:   runID,
		subs:    map[uint64]*subscriber{},
		metrics: metrics,
	}
}

// Subscription is a live subscriber handle.
type Subscription struct {
	C      <-chan Event
	bus    *Bus
	id     uint64
}

// Subscribe registers a new subscriber with a bounded buffer. Unsubscribe
// must be called to release it.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, DefaultBufferSize)
	b.subs[id] = &subscriber{ch: ch}
	return &Subscription{C: ch, bus: b, id: id}
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok && !sub.closed {
		sub.closed = true
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}

// Publish delivers evt to every current subscriber, assigning it the next
// sequence number. A subscriber whose buffer is full is disconnected
// (its channel closed) rather than allowed to block the publisher.
func (b *Bus) Publish(kind Kind, flowID string, payload any) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}
	}
	b.seq++
	evt := Event{Kind: kind, RunID: b.runID, FlowID: flowID, Seq: b.seq, At: now(), Payload: payload}

	slow := make([]uint64, 0)
	for id, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		sub := b.subs[id]
		sub.closed = true
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.observePublish(b.runID, string(kind))
		if len(slow) > 0 {
			b.metrics.observeDropped(b.runID, len(slow))
		}
	}
	return evt
}

// Close disconnects every subscriber and marks the bus closed; further
// Publish calls are no-ops. Called once the run's terminal RunEnd event has
// been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(b.subs, id)
	}
}

// now is a seam so tests can't accidentally depend on wall-clock jitter in
// ordering assertions; production always uses time.Now.
var now = time.Now
