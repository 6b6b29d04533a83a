// Package hub fans domain events out to observer connections.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"warmupd/internal/events"
	"warmupd/pkg/interfaces"
)

// Source is an event stream observers are fed from
type Source interface {
	Subscribe() events.Subscription
}

// Connections looks up open observer connections
type Connections interface {
	Get(id string) (interfaces.Connection, bool)
	All() []interfaces.Connection
}

// Stats counts delivery outcomes
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Unrouted  uint64 `json:"unrouted"`
}

// Hub is a single goroutine draining one bus subscription.
// Broadcast events go to every connection; targeted events to one.
type Hub struct {
	source      Source
	connections Connections

	shutdownChannel chan struct{}
	done            chan struct{}
	running         bool
	mu              sync.RWMutex

	delivered atomic.Uint64
	failed    atomic.Uint64
	unrouted  atomic.Uint64

	logger *zap.Logger
}

func NewHub(source Source, connections Connections, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source:      source,
		connections: connections,
		logger:      logger.Named("hub"),
	}
}

// Start subscribes to the source and begins delivery
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	sub := h.source.Subscribe()
	h.logger.Info("starting event hub")
	go h.run(ctx, sub, h.shutdownChannel, h.done)
	return nil
}

// Stop ends delivery and waits for the hub goroutine to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("event hub stopped")
	return nil
}

func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) Stats() Stats {
	return Stats{
		Delivered: h.delivered.Load(),
		Failed:    h.failed.Load(),
		Unrouted:  h.unrouted.Load(),
	}
}

func (h *Hub) run(ctx context.Context, sub events.Subscription, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer sub.Close()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				h.logger.Info("event source closed")
				return
			}
			h.deliver(event)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

func (h *Hub) deliver(event events.Event) {
	if event.Target != "" {
		conn, ok := h.connections.Get(event.Target)
		if !ok {
			h.unrouted.Add(1)
			h.logger.Debug("reply target gone",
				zap.String("conn_id", event.Target), zap.String("type", string(event.Type)))
			return
		}
		h.write(conn, event)
		return
	}

	for _, conn := range h.connections.All() {
		h.write(conn, event)
	}
}

func (h *Hub) write(conn interfaces.Connection, event events.Event) {
	if err := conn.WriteJSON(event); err != nil {
		h.failed.Add(1)
		h.logger.Warn("failed to deliver event",
			zap.String("conn_id", conn.GetID()), zap.String("type", string(event.Type)), zap.Error(err))
		return
	}
	h.delivered.Add(1)
}
