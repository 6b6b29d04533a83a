package interfaces_test

import (
	"context"
	"testing"

	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) WriteJSON(v interface{}) error { return nil }
func (m *mockConnection) Close() error                  { return nil }
func (m *mockConnection) GetID() string                 { return "" }

type mockDB struct{}

func (m *mockDB) SaveSession(ctx context.Context, rec *types.SessionRecord) error { return nil }
func (m *mockDB) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockDB) ListActiveSessions(ctx context.Context) ([]*types.SessionRecord, error) {
	return nil, nil
}
func (m *mockDB) RecordWarmupMessage(ctx context.Context, rec types.HistoryRecord) error { return nil }
func (m *mockDB) RecentWarmupMessages(ctx context.Context, limit int) ([]types.HistoryRecord, error) {
	return nil, nil
}
func (m *mockDB) SaveWarmupConfig(ctx context.Context, cfg types.WarmupConfig) error { return nil }
func (m *mockDB) LoadWarmupConfig(ctx context.Context) (types.WarmupConfig, error) {
	return types.WarmupConfig{}, interfaces.ErrSettingsNotFound
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

type mockTemplates struct{ items []string }

func (m *mockTemplates) List() []string      { return append([]string(nil), m.items...) }
func (m *mockTemplates) Add(t string) error  { m.items = append(m.items, t); return nil }
func (m *mockTemplates) Delete(i int) error  { m.items = append(m.items[:i], m.items[i+1:]...); return nil }

// Compile-time contract checks
func TestInterfaces_Compliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.DatabaseManager = &mockDB{}
	var _ interfaces.SessionStore = &mockDB{}
	var _ interfaces.MessageLog = &mockDB{}
	var _ interfaces.SettingsStore = &mockDB{}
	var _ interfaces.TemplateStore = &mockTemplates{}
}

func TestDatabaseManager_SentinelErrors(t *testing.T) {
	var db interfaces.DatabaseManager = &mockDB{}
	ctx := context.Background()

	if _, err := db.GetSession(ctx, "missing"); err != interfaces.ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := db.LoadWarmupConfig(ctx); err != interfaces.ErrSettingsNotFound {
		t.Errorf("Expected ErrSettingsNotFound, got %v", err)
	}
}
