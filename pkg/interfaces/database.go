package interfaces

import (
	"context"

	"warmupd/pkg/types"
)

// SessionStore persists session records keyed by session ID
type SessionStore interface {
	// SaveSession inserts or replaces the record for rec.ID
	SaveSession(ctx context.Context, rec *types.SessionRecord) error

	// GetSession returns ErrSessionNotFound when no record exists
	GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error)

	// ListActiveSessions returns records with status "active", ordered by ID
	ListActiveSessions(ctx context.Context) ([]*types.SessionRecord, error)
}

// MessageLog keeps an audit trail of sent warmup messages
type MessageLog interface {
	RecordWarmupMessage(ctx context.Context, rec types.HistoryRecord) error

	// RecentWarmupMessages returns up to limit records, oldest first
	RecentWarmupMessages(ctx context.Context, limit int) ([]types.HistoryRecord, error)
}

// SettingsStore persists the warmup configuration between restarts
type SettingsStore interface {
	SaveWarmupConfig(ctx context.Context, cfg types.WarmupConfig) error

	// LoadWarmupConfig returns ErrSettingsNotFound when nothing was saved yet
	LoadWarmupConfig(ctx context.Context) (types.WarmupConfig, error)
}

// DatabaseManager handles all database operations
type DatabaseManager interface {
	SessionStore
	MessageLog
	SettingsStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close waits for pending writes and closes the connection
	Close() error
}
