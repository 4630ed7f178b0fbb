package events

import (
	"context"
	"sync"
)

// Subscription receives events for the types it was created with.
type Subscription struct {
	types   map[Type]bool
	eventCh chan Event
	closeCh chan struct{}
	closed  bool
	mu      sync.RWMutex
}

func newSubscription(types []Type) *Subscription {
	typeMap := make(map[Type]bool)
	for _, t := range types {
		typeMap[t] = true
	}

	return &Subscription{
		types:   typeMap,
		eventCh: make(chan Event, 100),
		closeCh: make(chan struct{}),
	}
}

// Events returns the subscription's event channel.
func (s *Subscription) Events() <-chan Event {
	return s.eventCh
}

// Close tears down the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.eventCh)
	}
}

// send delivers an event without blocking; slow subscribers drop events.
func (s *Subscription) send(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	if len(s.types) > 0 && !s.types[evt.Type] {
		return
	}

	select {
	case s.eventCh <- evt:
	default:
		// Subscriber is full, drop the event to avoid blocking publishers
	}
}

// Bus is an in-process fan-out of events to subscriptions.
type Bus struct {
	subscribers []*Subscription
	mu          sync.RWMutex
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers for the given event types; no types means all events.
// The subscription is torn down when ctx is cancelled or Close is called.
func (b *Bus) Subscribe(ctx context.Context, types ...Type) *Subscription {
	sub := newSubscription(types)

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s == sub {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				break
			}
		}
	}()

	return sub
}

// Publish delivers the event to all matching subscriptions.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subscribers := make([]*Subscription, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subscribers {
		sub.send(evt)
	}
}
