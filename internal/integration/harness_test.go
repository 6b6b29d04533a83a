package integration

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"warmupd/internal/control"
	"warmupd/internal/conversation"
	"warmupd/internal/database"
	"warmupd/internal/events"
	"warmupd/internal/lifecycle"
	"warmupd/internal/loop"
	"warmupd/internal/messaging/memory"
	"warmupd/internal/metrics"
	"warmupd/internal/pairing"
	"warmupd/internal/session"
	"warmupd/internal/templates"
	"warmupd/internal/warmup"
	dbconfig "warmupd/pkg/database"
	"warmupd/pkg/types"
)

var epoch = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

const observer = "observer-1"

// harness wires the real core on a virtual clock against a SQLite file
type harness struct {
	clock      *loop.Manual
	db         *database.Manager
	templates  *templates.FileStore
	registry   *session.Registry
	recorder   *events.Recorder
	metrics    *metrics.Aggregator
	network    *memory.Network
	warmup     *warmup.Scheduler
	controller *lifecycle.Controller
	service    *control.Service
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()

	templatesPath := filepath.Join(dir, "dataset.txt")
	if _, err := os.Stat(templatesPath); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(templatesPath, []byte("Hi\nHow are you?\n"), 0o644))
	}

	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = filepath.Join(dir, "warmupd.db")
	dbConfig.WriteRetryDelay = 10 * time.Millisecond
	db, err := database.NewManager(dbConfig, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := templates.Open(templatesPath, zap.NewNop())
	require.NoError(t, err)

	clock := loop.NewManual(epoch)
	h := &harness{
		clock:     clock,
		db:        db,
		templates: store,
		registry:  session.NewRegistry(clock.Now),
		recorder:  &events.Recorder{},
		metrics:   metrics.NewAggregator(types.DefaultHistoryLimit),
		network:   memory.NewNetwork(clock, memory.WithPairingDelay(time.Second)),
	}

	engine := conversation.NewEngine(store, rand.New(rand.NewPCG(3, 5)), clock.Now)
	h.warmup, err = warmup.New(warmup.Deps{
		Loop:       clock,
		Roster:     h.registry,
		Engine:     engine,
		Metrics:    h.metrics,
		MessageLog: db,
		Publisher:  h.recorder,
		Rand:       rand.New(rand.NewPCG(3, 7)),
		Logger:     zap.NewNop(),
	}, warmup.Options{Interval: types.WarmupConfig{IntervalMin: 100, IntervalMax: 100}})
	require.NoError(t, err)

	h.controller = lifecycle.New(lifecycle.Deps{
		Loop:      clock,
		Registry:  h.registry,
		Factory:   h.network,
		Store:     db,
		Artifacts: pairing.NewCache(pairing.DefaultTTL, clock.Now),
		Publisher: h.recorder,
		Warmup:    h.warmup,
		Logger:    zap.NewNop(),
	}, lifecycle.Config{MaxRetries: 3, RetryDelay: 5 * time.Second, InitTimeout: time.Minute})

	h.service = control.NewService(control.Deps{
		Loop:      clock,
		Lifecycle: h.controller,
		Warmup:    h.warmup,
		Sessions:  h.registry,
		History:   h.metrics,
		Templates: store,
		Settings:  db,
		Publisher: h.recorder,
		Logger:    zap.NewNop(),
	}, control.Options{AutoProvision: true, PersistSettings: true})
	return h
}

func (h *harness) state(id string) types.SessionState {
	s, _ := h.registry.Get(id)
	return s.State
}

// pairAll scans every outstanding pairing code
func (h *harness) pairAll(t *testing.T, ids ...string) {
	t.Helper()
	h.clock.Advance(time.Second)
	for _, id := range ids {
		require.Equal(t, types.StateAwaitingPairing, h.state(id), id)
		require.NoError(t, h.network.Pair(id))
		require.Equal(t, types.StateReady, h.state(id), id)
	}
}

func (h *harness) execute(cmd types.Command) {
	h.service.Execute(observer, cmd)
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
