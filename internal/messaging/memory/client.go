package memory

import (
	"context"
	"fmt"
	"sync"

	"warmupd/internal/messaging"
)

// Client is one simulated adapter instance
type Client struct {
	network   *Network
	sessionID string
	handler   messaging.EventHandler

	mu       sync.Mutex
	started  bool
	ready    bool
	closed   bool
	attempts int
}

// Initialize schedules the pairing code, and pairing itself when auto-pair is on
func (c *Client) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.network.takeInitFailure(c.sessionID) {
		return fmt.Errorf("simulated initialization failure for %s", c.sessionID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return messaging.ErrClientClosed
	}
	c.started = true
	c.mu.Unlock()

	c.schedulePairingCode()
	if c.network.autoPair {
		c.network.sched.After(c.network.pairingDelay+c.network.scanDelay, c.completePairing)
	}
	return nil
}

func (c *Client) schedulePairingCode() {
	c.network.sched.After(c.network.pairingDelay, c.emitPairingCode)
}

func (c *Client) emitPairingCode() {
	c.mu.Lock()
	if c.closed || c.ready {
		c.mu.Unlock()
		return
	}
	c.attempts++
	code := fmt.Sprintf("pair:%s:%d", c.sessionID, c.attempts)
	c.mu.Unlock()

	c.handler.OnPairingCode(code)
}

func (c *Client) completePairing() {
	c.mu.Lock()
	if c.closed || c.ready {
		c.mu.Unlock()
		return
	}
	c.ready = true
	c.mu.Unlock()

	c.handler.OnAuthenticated()
	c.handler.OnReady(c.network.PhoneOf(c.sessionID))
}

func (c *Client) Chat(ctx context.Context, chatID string) (messaging.Chat, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if messaging.PhoneFromChatID(chatID) == "" {
		return nil, fmt.Errorf("%w: %q", messaging.ErrChatNotFound, chatID)
	}
	return &chat{client: c, id: chatID}, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.network.deliver(c, chatID, text)
}

// RefreshPairingCode emits a new code if the client is still pairing
func (c *Client) RefreshPairingCode(ctx context.Context) error {
	c.mu.Lock()
	closed, pairing := c.closed, c.started && !c.ready
	c.mu.Unlock()

	if closed {
		return messaging.ErrClientClosed
	}
	if pairing {
		c.network.sched.Post(c.emitPairingCode)
	}
	return nil
}

func (c *Client) Close() error {
	c.markClosed()
	return nil
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.ready = false
	c.mu.Unlock()
}

func (c *Client) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Client) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return messaging.ErrClientClosed
	}
	if !c.ready {
		return messaging.ErrNotReady
	}
	return nil
}

type chat struct {
	client *Client
	id     string
}

func (ch *chat) Send(ctx context.Context, text string) error {
	return ch.client.SendMessage(ctx, ch.id, text)
}
