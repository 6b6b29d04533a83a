package events

import (
	"sync"

	"go.uber.org/zap"
)

const defaultSubscriberCapacity = 256

// BusOption customizes Bus construction
type BusOption func(*Bus)

// WithLogger injects a logger for drop diagnostics
func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger.Named("events")
		}
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber
func WithSubscriberCapacity(capacity int) BusOption {
	return func(b *Bus) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// Bus fans events out to subscribers over bounded channels.
// Publish never blocks: a full subscriber loses its oldest event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	capacity    int
	logger      *zap.Logger
}

// Subscription is an active bus subscription
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Close terminates the subscription and closes C
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: map[*subscriber]struct{}{},
		capacity:    defaultSubscriberCapacity,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Bus) Subscribe() Subscription {
	sub := &subscriber{ch: make(chan Event, b.capacity), logger: b.logger}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			sub.close()
		},
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
}

// SubscriberCount reports the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
	logger *zap.Logger
}

func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- event:
		return
	default:
	}

	select {
	case oldest := <-s.ch:
		s.logger.Warn("subscriber queue full, dropping oldest event",
			zap.String("dropped_type", string(oldest.Type)),
			zap.String("dropped_id", oldest.ID))
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.logger.Warn("dropping event", zap.String("type", string(event.Type)))
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
