package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmupd/internal/conversation"
	"warmupd/internal/events"
	"warmupd/pkg/types"
)

func TestWarmupFlow_PairStartExchange(t *testing.T) {
	h := newHarness(t, t.TempDir())

	assert.Equal(t, []string{"session_1"}, h.controller.Restore(nil, "session_1"))
	h.execute(types.Command{Type: types.CommandRequestSessionTable})
	require.Equal(t, types.StateInitializing, h.state("session_2"), "table request provisions a session")

	h.pairAll(t, "session_1", "session_2")
	assert.Len(t, h.recorder.OfType(events.TypePairingArtifactReady), 2)
	assert.Len(t, h.recorder.OfType(events.TypeSessionReady), 2)

	// The second ready session starts the warmup
	require.True(t, h.warmup.Running())
	assert.Equal(t, []string{"session_1", "session_2"}, h.warmup.Participants())
	assert.Len(t, h.recorder.OfType(events.TypeWarmupStarted), 1)

	records, err := h.db.ListActiveSessions(ctx(t))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, h.network.PhoneOf("session_1"), records[0].PhoneNumber)
	assert.Equal(t, h.network.PhoneOf("session_2"), records[1].PhoneNumber)

	h.clock.Advance(100 * time.Second)

	deliveries := h.network.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Len(t, h.network.Inbox(h.network.PhoneOf("session_1")), 1)
	assert.Len(t, h.network.Inbox(h.network.PhoneOf("session_2")), 1)

	history := h.metrics.History()
	require.Len(t, history, 2)
	assert.Contains(t, []string{"Hi", "How are you?"}, history[0].Message)
	assert.Contains(t, conversation.DefaultReplies, history[1].Message, "second sender answers the queued message")

	persisted, err := h.db.RecentWarmupMessages(ctx(t), 10)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	status := h.warmup.Status()
	assert.Equal(t, 2, status.MessagesSent)
	assert.Equal(t, 2, status.ActiveSessions)

	h.execute(types.Command{Type: types.CommandStopWarmup})
	assert.False(t, h.warmup.Running())
	assert.Len(t, h.recorder.OfType(events.TypeWarmupStopped), 1)

	h.clock.Advance(time.Hour)
	assert.Len(t, h.network.Deliveries(), 2, "no sends after stop")
}

func TestWarmupFlow_DisconnectAndRecover(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.controller.Restore(nil, "session_1")
	h.execute(types.Command{Type: types.CommandRequestSessionTable})
	h.pairAll(t, "session_1", "session_2")
	require.True(t, h.warmup.Running())

	h.network.Disconnect("session_2", "connection lost")
	assert.Equal(t, types.StateRetrying, h.state("session_2"))
	assert.Equal(t, []string{"session_1"}, h.warmup.Participants())
	require.Len(t, h.recorder.OfType(events.TypeDisconnected), 1)

	// Retry fires, the new client asks for pairing again
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, types.StateInitializing, h.state("session_2"))
	h.pairAll(t, "session_2")

	assert.Equal(t, []string{"session_1", "session_2"}, h.warmup.Participants(), "ready session rejoins the running warmup")
	assert.Len(t, h.recorder.OfType(events.TypeSessionAddedToWarmup), 1)
	s, _ := h.registry.Get("session_2")
	assert.Equal(t, 1, s.Retries)
}

func TestWarmupFlow_RestartRestoresPersistedSessions(t *testing.T) {
	dir := t.TempDir()

	first := newHarness(t, dir)
	first.controller.Restore(nil, "session_1")
	first.execute(types.Command{Type: types.CommandRequestSessionTable})
	first.pairAll(t, "session_1", "session_2")
	first.execute(types.Command{
		Type:     types.CommandSaveSettings,
		Settings: &types.WarmupConfig{IntervalMin: 30, IntervalMax: 60},
	})
	first.controller.Close()
	require.NoError(t, first.db.Close())

	second := newHarness(t, dir)
	records, err := second.db.ListActiveSessions(ctx(t))
	require.NoError(t, err)

	restored := second.controller.Restore(records, "session_1")
	assert.Equal(t, []string{"session_1", "session_2"}, restored)
	assert.Equal(t, types.StateInitializing, second.state("session_2"))

	saved, err := second.db.LoadWarmupConfig(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, types.WarmupConfig{IntervalMin: 30, IntervalMax: 60}, saved)
}

func TestWarmupFlow_TemplateEditsFeedTheConversation(t *testing.T) {
	h := newHarness(t, t.TempDir())

	zero := 0
	h.execute(types.Command{Type: types.CommandSaveMessageTemplate, Template: "Good morning"})
	h.execute(types.Command{Type: types.CommandDeleteMessageTemplate, Index: &zero})
	h.execute(types.Command{Type: types.CommandDeleteMessageTemplate, Index: &zero})
	assert.Equal(t, []string{"Good morning"}, h.templates.List())

	h.controller.Restore(nil, "session_1")
	h.execute(types.Command{Type: types.CommandRequestSessionTable})
	h.pairAll(t, "session_1", "session_2")
	h.clock.Advance(100 * time.Second)

	history := h.metrics.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "Good morning", history[0].Message)
}

func TestWarmupFlow_StartRequiresTwoReadySessions(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.controller.Restore(nil, "session_1")
	h.pairAll(t, "session_1")

	h.execute(types.Command{Type: types.CommandStartWarmup})
	assert.False(t, h.warmup.Running())

	failures := h.recorder.OfType(events.TypeCommandError)
	require.Len(t, failures, 1)
	assert.Equal(t, observer, failures[0].Target)
}
