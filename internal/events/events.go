// Package events carries typed domain events from the core to observers.
package events

import (
	"time"

	"github.com/google/uuid"

	"warmupd/pkg/types"
)

// Type is the wire name of an event
type Type string

const (
	TypePairingArtifactReady  Type = "pairing-artifact-ready"
	TypeSessionAuthenticated  Type = "session-authenticated"
	TypeSessionReady          Type = "session-ready"
	TypeAuthFailed            Type = "auth-failed"
	TypeDisconnected          Type = "disconnected"
	TypeSessionFailed         Type = "session-failed"
	TypeSessionTableSnapshot  Type = "session-table-snapshot"
	TypeWarmupStarted         Type = "warmup-started"
	TypeWarmupStopped         Type = "warmup-stopped"
	TypeWarmupStatus          Type = "warmup-status"
	TypeWarmupMessageSent     Type = "warmup-message-sent"
	TypeSessionAddedToWarmup  Type = "session-added-to-warmup"
	TypeTestMessageResult     Type = "test-message-result"
	TypeCurrentSettings       Type = "current-settings"
	TypeSettingsSaved         Type = "settings-saved"
	TypeMessageTemplateList   Type = "message-template-list"
	TypeMessages              Type = "messages"
	TypeWarmupHistorySnapshot Type = "warmup-history-snapshot"
	TypeCommandError          Type = "command-error"
)

// Event is one observer-facing notification.
// Target is empty for broadcasts; otherwise only that observer connection receives it.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"sessionId,omitempty"`
	Target    string    `json:"-"`
	Data      any       `json:"data,omitempty"`
}

// New builds a broadcast event stamped with a fresh ID
func New(kind Type, at time.Time, sessionID string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Time:      at,
		SessionID: sessionID,
		Data:      data,
	}
}

// Reply builds an event addressed to a single observer connection
func Reply(target string, kind Type, at time.Time, data any) Event {
	e := New(kind, at, "", data)
	e.Target = target
	return e
}

// Publisher accepts events for delivery
type Publisher interface {
	Publish(event Event)
}

// PairingArtifact is the scannable pairing code for a session
type PairingArtifact struct {
	SessionID string    `json:"sessionId"`
	DataURL   string    `json:"dataUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionAccount reports the account id learned when a session became ready
type SessionAccount struct {
	SessionID   string `json:"sessionId"`
	PhoneNumber string `json:"phoneNumber"`
}

// SessionFailure describes an authentication failure, disconnect or exhaustion
type SessionFailure struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Retries   int    `json:"retries"`
}

type SessionTable struct {
	Sessions []types.Session `json:"sessions"`
}

type TestMessageResult struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type TemplateList struct {
	Templates []string `json:"templates"`
}

type WarmupHistory struct {
	Messages []types.HistoryRecord `json:"messages"`
}

type CommandError struct {
	Command types.CommandType `json:"command,omitempty"`
	Error   string            `json:"error"`
}
