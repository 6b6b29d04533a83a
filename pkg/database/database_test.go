package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyPragmas(db))
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./data/warmupd.db", cfg.DatabasePath)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.WriteRetryDelay)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"negative retry delay", func(c *Config) { c.WriteRetryDelay = -time.Second }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_AppliesEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db, Migrations())

	require.NoError(t, mm.ApplyMigrations())
	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	// Idempotent
	require.NoError(t, mm.ApplyMigrations())
	versions, err = mm.AppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	assert.NoError(t, NewSchemaValidator(db).Validate())
}

func TestMigrationManager_LoadOrdersByVersion(t *testing.T) {
	source := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}
	mm := NewMigrationManager(openTestDB(t), source)

	migrations, err := mm.LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Description)
	assert.Equal(t, "002", migrations[1].Version)
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE broken (id INTEGER); THIS IS NOT SQL;")},
	}
	mm := NewMigrationManager(db, source)

	assert.Error(t, mm.ApplyMigrations())
	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, versions)
}

func TestSchemaValidator_DetectsMissingTables(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db)
	assert.Error(t, v.ValidateTablesExist())
}

func TestSchemaValidator_RejectsBadStatus(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db, Migrations()).ApplyMigrations())

	_, err := db.Exec(`INSERT INTO sessions (id, status) VALUES ('s', 'bogus')`)
	assert.Error(t, err)
	_, err = db.Exec(`INSERT INTO sessions (id, status, phone_number) VALUES ('s', 'active', '79000000001')`)
	assert.NoError(t, err)
}
