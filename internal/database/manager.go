package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "warmupd/pkg/database"
	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

const warmupConfigKey = "warmup_config"

// Manager implements interfaces.DatabaseManager on SQLite.
// Reads run on the pool; all writes go through a single writer goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	logger       *zap.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	if err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logger.Named("database"),
	}
	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info("database ready", zap.String("path", config.DatabasePath))
	return m, nil
}

// writeLoop runs every write; a failed write is retried exactly once after WriteRetryDelay
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying",
					zap.Duration("delay", m.config.WriteRetryDelay), zap.Error(err))
				select {
				case <-time.After(m.config.WriteRetryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", zap.Error(err))
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrWriteTimeout
	}
}

// SaveSession upserts the record
func (m *Manager) SaveSession(ctx context.Context, rec *types.SessionRecord) error {
	if rec == nil || !types.IsValidSessionID(rec.ID) {
		return types.ErrInvalidSessionID
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	status := rec.Status
	if status == "" {
		status = types.SessionStatusActive
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, status, phone_number, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				phone_number = excluded.phone_number,
				updated_at = excluded.updated_at
		`, rec.ID, status, rec.PhoneNumber, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, status, phone_number, updated_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var rec types.SessionRecord
	err := row.Scan(&rec.ID, &rec.Status, &rec.PhoneNumber, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &rec, nil
}

func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.SessionRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, status, phone_number, updated_at
		FROM sessions
		WHERE status = ?
		ORDER BY id ASC
	`, types.SessionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.SessionRecord
	for rows.Next() {
		var rec types.SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.PhoneNumber, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return records, nil
}

func (m *Manager) RecordWarmupMessage(ctx context.Context, rec types.HistoryRecord) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO warmup_messages (sent_at, from_session, to_session, message)
			VALUES (?, ?, ?, ?)
		`, rec.Time.UTC(), rec.From, rec.To, rec.Message)
		if err != nil {
			return fmt.Errorf("failed to insert warmup message: %w", err)
		}
		return nil
	})
}

// RecentWarmupMessages returns the newest limit messages in chronological order
func (m *Manager) RecentWarmupMessages(ctx context.Context, limit int) ([]types.HistoryRecord, error) {
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT sent_at, from_session, to_session, message
		FROM warmup_messages
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query warmup messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.HistoryRecord
	for rows.Next() {
		var rec types.HistoryRecord
		if err := rows.Scan(&rec.Time, &rec.From, &rec.To, &rec.Message); err != nil {
			return nil, fmt.Errorf("failed to scan warmup message row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating warmup message rows: %w", err)
	}

	// Newest first from the query; callers want chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (m *Manager) SaveWarmupConfig(ctx context.Context, cfg types.WarmupConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal warmup config: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, warmupConfigKey, string(value), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to save warmup config: %w", err)
		}
		return nil
	})
}

func (m *Manager) LoadWarmupConfig(ctx context.Context) (types.WarmupConfig, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, warmupConfigKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.WarmupConfig{}, interfaces.ErrSettingsNotFound
		}
		return types.WarmupConfig{}, fmt.Errorf("failed to query warmup config: %w", err)
	}

	var cfg types.WarmupConfig
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return types.WarmupConfig{}, fmt.Errorf("failed to unmarshal warmup config: %w", err)
	}
	return cfg, nil
}

// HealthCheck verifies connectivity and that the schema is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB exposes the pool for schema validation
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
