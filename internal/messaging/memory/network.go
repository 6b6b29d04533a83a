// Package memory is an in-process messaging network. Every client it hands
// out pairs on a virtual phone number and delivers messages to in-memory inboxes.
package memory

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"warmupd/internal/loop"
	"warmupd/internal/messaging"
)

// Delivery is a message accepted by the network
type Delivery struct {
	FromSession string
	FromPhone   string
	To          string
	Text        string
	At          time.Time
}

// Option customizes Network construction
type Option func(*Network)

// WithPairingDelay sets how long a client waits before emitting its pairing code
func WithPairingDelay(d time.Duration) Option {
	return func(n *Network) { n.pairingDelay = d }
}

// WithAutoPair makes every client complete pairing after d, as if scanned
func WithAutoPair(d time.Duration) Option {
	return func(n *Network) {
		n.autoPair = true
		n.scanDelay = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(n *Network) {
		if logger != nil {
			n.logger = logger.Named("memory-network")
		}
	}
}

// Network implements messaging.Factory
type Network struct {
	mu    sync.Mutex
	sched loop.Scheduler

	pairingDelay time.Duration
	scanDelay    time.Duration
	autoPair     bool

	clients    map[string]*Client
	phones     map[string]string
	nextPhone  int
	deliveries []Delivery
	failInit   map[string]int
	failSend   map[string]error

	logger *zap.Logger
}

func NewNetwork(sched loop.Scheduler, opts ...Option) *Network {
	n := &Network{
		sched:        sched,
		pairingDelay: time.Second,
		clients:      make(map[string]*Client),
		phones:       make(map[string]string),
		failInit:     make(map[string]int),
		failSend:     make(map[string]error),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// NewClient replaces any previous client for the session
func (n *Network) NewClient(sessionID string, handler messaging.EventHandler) (messaging.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if old, ok := n.clients[sessionID]; ok {
		old.markClosed()
	}
	c := &Client{network: n, sessionID: sessionID, handler: handler}
	n.clients[sessionID] = c
	return c, nil
}

// PhoneOf returns the virtual phone number assigned to a session, assigning one if needed
func (n *Network) PhoneOf(sessionID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phoneLocked(sessionID)
}

func (n *Network) phoneLocked(sessionID string) string {
	phone, ok := n.phones[sessionID]
	if !ok {
		n.nextPhone++
		phone = fmt.Sprintf("79%09d", n.nextPhone)
		n.phones[sessionID] = phone
	}
	return phone
}

// Pair completes pairing for the session's current client
func (n *Network) Pair(sessionID string) error {
	c := n.client(sessionID)
	if c == nil {
		return fmt.Errorf("%w: %s", messaging.ErrClientClosed, sessionID)
	}
	c.completePairing()
	return nil
}

// FailAuth reports an authentication failure on the session's current client
func (n *Network) FailAuth(sessionID, reason string) {
	if c := n.client(sessionID); c != nil {
		c.handler.OnAuthFailure(reason)
	}
}

// Disconnect drops the session's current client
func (n *Network) Disconnect(sessionID, reason string) {
	if c := n.client(sessionID); c != nil {
		c.setReady(false)
		c.handler.OnDisconnected(reason)
	}
}

// FailInitialize makes the next count Initialize calls for the session fail
func (n *Network) FailInitialize(sessionID string, count int) {
	n.mu.Lock()
	n.failInit[sessionID] = count
	n.mu.Unlock()
}

// FailSends makes every send from the session fail with err; nil clears it
func (n *Network) FailSends(sessionID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failSend, sessionID)
		return
	}
	n.failSend[sessionID] = err
}

// Deliveries returns every accepted message, oldest first
func (n *Network) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.deliveries...)
}

// Inbox returns messages delivered to phone
func (n *Network) Inbox(phone string) []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Delivery
	for _, d := range n.deliveries {
		if messaging.PhoneFromChatID(d.To) == phone {
			out = append(out, d)
		}
	}
	return out
}

func (n *Network) client(sessionID string) *Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[sessionID]
}

func (n *Network) takeInitFailure(sessionID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failInit[sessionID] > 0 {
		n.failInit[sessionID]--
		return true
	}
	return false
}

func (n *Network) deliver(from *Client, chatID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.failSend[from.sessionID]; err != nil {
		return err
	}
	n.deliveries = append(n.deliveries, Delivery{
		FromSession: from.sessionID,
		FromPhone:   n.phoneLocked(from.sessionID),
		To:          chatID,
		Text:        text,
		At:          n.sched.Now(),
	})
	n.logger.Debug("message delivered",
		zap.String("session_id", from.sessionID),
		zap.String("to", chatID))
	return nil
}
