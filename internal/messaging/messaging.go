// Package messaging defines the contract between the core and a chat-client adapter.
package messaging

import (
	"context"
	"errors"
	"strings"
)

// ChatSuffix marks a personal chat handle
const ChatSuffix = "@c.us"

var (
	ErrClientClosed  = errors.New("messaging client is closed")
	ErrNotReady      = errors.New("messaging client is not ready")
	ErrChatNotFound  = errors.New("chat not found")
	ErrUnknownDriver = errors.New("unknown messaging driver")
)

// EventHandler receives adapter events for one session.
// Implementations must return quickly; the adapter may call from any goroutine.
type EventHandler interface {
	OnPairingCode(code string)
	OnAuthenticated()
	OnReady(accountID string)
	OnAuthFailure(reason string)
	OnDisconnected(reason string)
}

// Client is one adapter instance bound to a session
type Client interface {
	// Initialize starts the client; it may block until the client is connected
	Initialize(ctx context.Context) error

	// Chat resolves a chat handle
	Chat(ctx context.Context, chatID string) (Chat, error)

	// SendMessage sends text to chatID without resolving a Chat first
	SendMessage(ctx context.Context, chatID, text string) error

	// RefreshPairingCode asks the adapter to emit a new pairing code
	RefreshPairingCode(ctx context.Context) error

	Close() error
}

// Chat is a resolved conversation
type Chat interface {
	Send(ctx context.Context, text string) error
}

// Factory builds a client for a session, wiring handler as its event sink
type Factory interface {
	NewClient(sessionID string, handler EventHandler) (Client, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(sessionID string, handler EventHandler) (Client, error)

func (f FactoryFunc) NewClient(sessionID string, handler EventHandler) (Client, error) {
	return f(sessionID, handler)
}

// ChatID turns a phone number into a chat handle, keeping an existing suffix
func ChatID(phone string) string {
	if strings.Contains(phone, ChatSuffix) {
		return phone
	}
	return phone + ChatSuffix
}

// PhoneFromChatID strips the chat suffix
func PhoneFromChatID(chatID string) string {
	return strings.TrimSuffix(chatID, ChatSuffix)
}
