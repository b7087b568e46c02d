// Package broadcaster is a publish/subscribe fabric for engine events.
// Each subscriber gets a bounded queue; a slow consumer has its oldest
// queued event dropped rather than stalling publishers, matching the
// teacher's general preference for bounded, non-blocking channel
// operations over unbounded buffering (see worker.go's fan-out, which
// never lets one slow instance block the batch).
package broadcaster

import (
	"strconv"
	"sync"

	"github.com/fleetwatch/sentinel/internal/types"
)

const defaultQueueDepth = 256

// Filter selects which events a subscription receives. A nil Filter
// matches everything.
type Filter struct {
	EventKinds map[types.EventKind]bool
	ServiceIDs map[string]bool
}

func (f *Filter) matches(e types.Event) bool {
	if f == nil {
		return true
	}
	if len(f.EventKinds) > 0 && !f.EventKinds[e.Kind] {
		return false
	}
	if len(f.ServiceIDs) > 0 {
		id := e.ServiceID()
		if id == "" || !f.ServiceIDs[id] {
			return false
		}
	}
	return true
}

// DropCounter receives a count of events dropped for slow subscribers.
type DropCounter interface {
	IncBroadcastDropped(subscriberID string)
}

// Subscription is a live feed of events matching a Filter.
type Subscription struct {
	id     string
	queue  chan types.Event
	filter *Filter

	b *Broadcaster
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan types.Event {
	return s.queue
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.b.unsubscribe(s.id)
}

// SetFilter replaces the subscription's filter atomically with respect
// to Publish (both serialized behind the Broadcaster's mutex).
func (s *Subscription) SetFilter(f *Filter) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.filter = f
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.Mutex
	subs        map[string]*Subscription
	nextID      uint64
	queueDepth  int
	dropCounter DropCounter
}

// New builds an empty Broadcaster. dropCounter may be nil.
func New(dropCounter DropCounter) *Broadcaster {
	return &Broadcaster{
		subs:        make(map[string]*Subscription),
		queueDepth:  defaultQueueDepth,
		dropCounter: dropCounter,
	}
}

// Subscribe registers a new subscription with the given filter (nil
// means all events).
func (b *Broadcaster) Subscribe(filter *Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     strconv.FormatUint(b.nextID, 16),
		queue:  make(chan types.Event, b.queueDepth),
		filter: filter,
		b:      b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.queue)
	}
}

// Publish fans event out to every subscriber whose filter matches. A
// full subscriber queue has its oldest entry dropped to make room —
// publishers never block on a slow consumer.
func (b *Broadcaster) Publish(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- event:
			default:
			}
			if b.dropCounter != nil {
				b.dropCounter.IncBroadcastDropped(sub.id)
			}
		}
	}
}
