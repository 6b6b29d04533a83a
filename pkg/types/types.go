package types

import (
	"time"
)

// Queue and history bounds
const (
	DefaultQueueCapacity = 5
	DefaultHistoryLimit  = 100
)

// SessionState is the lifecycle state of a chat-client session
type SessionState string

const (
	StateInitializing    SessionState = "initializing"
	StateAwaitingPairing SessionState = "awaiting_pairing"
	StateAuthenticated   SessionState = "authenticated"
	StateReady           SessionState = "ready"
	StateRetrying        SessionState = "failed_retrying"
	StateExhausted       SessionState = "failed_exhausted"
)

// Session is one automated chat-client identity.
// PhoneNumber is only set once the session has reached ready.
type Session struct {
	ID          string       `json:"id"`
	State       SessionState `json:"state"`
	PhoneNumber string       `json:"phoneNumber,omitempty"`
	Retries     int          `json:"retries"`
	LastError   string       `json:"lastError,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// SessionRecord is the persisted form of a session
type SessionRecord struct {
	ID          string    `json:"id" db:"id"`
	Status      string    `json:"status" db:"status"`
	PhoneNumber string    `json:"phoneNumber" db:"phone_number"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// SessionStatusActive is the only status written by the lifecycle controller
const SessionStatusActive = "active"

// WarmupConfig bounds the randomized delay between two sends of one session, in seconds
type WarmupConfig struct {
	IntervalMin int `json:"intervalMin" mapstructure:"interval_min"`
	IntervalMax int `json:"intervalMax" mapstructure:"interval_max"`
}

// WarmupStatus is the full status snapshot broadcast after every send or state change
type WarmupStatus struct {
	IsRunning              bool       `json:"isRunning"`
	MessagesSent           int        `json:"messagesSent"`
	ActiveSessions         int        `json:"activeSessions"`
	NextMessageTime        *time.Time `json:"nextMessageTime,omitempty"`
	TotalMessagesSent      int        `json:"totalMessagesSent"`
	AverageMessagesPerHour float64    `json:"averageMessagesPerHour"`
}

// QueueEntry is an inbound message waiting in the recipient's conversation queue
type QueueEntry struct {
	From       string    `json:"from"`
	Message    string    `json:"message"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// HistoryRecord is one sent warmup message
type HistoryRecord struct {
	Time    time.Time `json:"time" db:"sent_at"`
	From    string    `json:"from" db:"from_session"`
	To      string    `json:"to" db:"to_session"`
	Message string    `json:"message" db:"message"`
}

// MessageKind tells whether an outgoing message answers a queued message or starts a new exchange
type MessageKind string

const (
	MessageKindReply MessageKind = "reply"
	MessageKindFresh MessageKind = "fresh"
)

// OutgoingMessage is the content chosen for one warmup send
type OutgoingMessage struct {
	Text string      `json:"text"`
	Kind MessageKind `json:"kind"`
}

// CommandType names an observer command
type CommandType string

const (
	CommandRequestSessionTable   CommandType = "request-session-table"
	CommandRequestPairing        CommandType = "request-pairing-artifact"
	CommandSendTestMessage       CommandType = "send-test-message"
	CommandSaveSettings          CommandType = "save-settings"
	CommandGetSettings           CommandType = "get-settings"
	CommandStopWarmup            CommandType = "stop-warmup"
	CommandStartWarmup           CommandType = "start-warmup"
	CommandGetMessageTemplates   CommandType = "get-message-templates"
	CommandSaveMessageTemplate   CommandType = "save-message-template"
	CommandDeleteMessageTemplate CommandType = "delete-message-template"
	CommandGetMessages           CommandType = "get-messages"
	CommandGetWarmupHistory      CommandType = "get-warmup-history"
)

// Command is an observer request decoded from a transport frame.
// Only the fields relevant to Type are read.
type Command struct {
	Type        CommandType   `json:"type"`
	SessionID   string        `json:"sessionId,omitempty"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	Message     string        `json:"message,omitempty"`
	Template    string        `json:"template,omitempty"`
	Index       *int          `json:"index,omitempty"`
	Settings    *WarmupConfig `json:"settings,omitempty"`
}
