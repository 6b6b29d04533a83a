package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmupd/internal/messaging"
	"warmupd/pkg/types"
)

type stubClient struct{ closed bool }

func (c *stubClient) Initialize(ctx context.Context) error { return nil }
func (c *stubClient) Chat(ctx context.Context, chatID string) (messaging.Chat, error) {
	return nil, messaging.ErrChatNotFound
}
func (c *stubClient) SendMessage(ctx context.Context, chatID, text string) error { return nil }
func (c *stubClient) RefreshPairingCode(ctx context.Context) error             { return nil }
func (c *stubClient) Close() error                                             { c.closed = true; return nil }

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestRegistry_EnsureValidatesID(t *testing.T) {
	r := NewRegistry(fixedClock)

	s, err := r.Ensure("session_1")
	require.NoError(t, err)
	assert.Equal(t, "session_1", s.ID)
	assert.Equal(t, types.SessionState(""), s.State)

	_, err = r.Ensure("bad id")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestRegistry_LifecycleTransitions(t *testing.T) {
	r := NewRegistry(fixedClock)
	_, _ = r.Ensure("session_1")

	_, err := r.Transition("session_1", types.StateInitializing, 0, "")
	require.NoError(t, err)
	_, err = r.Transition("session_1", types.StateAwaitingPairing, 0, "")
	require.NoError(t, err)
	_, err = r.Transition("session_1", types.StateAuthenticated, 0, "")
	require.NoError(t, err)

	s, err := r.MarkReady("session_1", "79000000001")
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, s.State)
	assert.Equal(t, "79000000001", s.PhoneNumber)
	assert.True(t, r.IsReady("session_1"))

	id, ok := r.SessionForAccount("79000000001")
	require.True(t, ok)
	assert.Equal(t, "session_1", id)

	s, err = r.Transition("session_1", types.StateRetrying, 1, "disconnected")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Retries)
	assert.Equal(t, "disconnected", s.LastError)
	assert.False(t, r.IsReady("session_1"))
	_, ok = r.SessionForAccount("79000000001")
	assert.False(t, ok, "account index follows readiness")
}

func TestRegistry_MarkReadyRejectsAccountOfAnotherReadySession(t *testing.T) {
	r := NewRegistry(fixedClock)
	for _, id := range []string{"session_1", "session_2"} {
		_, _ = r.Ensure(id)
		_, _ = r.Transition(id, types.StateInitializing, 0, "")
	}
	_, err := r.MarkReady("session_1", "79000000001")
	require.NoError(t, err)

	s, err := r.MarkReady("session_2", "79000000001")
	assert.ErrorIs(t, err, ErrAccountInUse)
	assert.Equal(t, types.StateInitializing, s.State)
	owner, _ := r.SessionForAccount("79000000001")
	assert.Equal(t, "session_1", owner)

	// Once the owner leaves ready the account is free again
	_, err = r.Transition("session_1", types.StateRetrying, 1, "disconnected")
	require.NoError(t, err)
	_, err = r.MarkReady("session_2", "79000000001")
	require.NoError(t, err)
	owner, _ = r.SessionForAccount("79000000001")
	assert.Equal(t, "session_2", owner)
}

func TestRegistry_RejectsInvalidTransition(t *testing.T) {
	r := NewRegistry(fixedClock)
	_, _ = r.Ensure("session_1")

	_, err := r.Transition("session_1", types.StateReady, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.Transition("session_1", types.StateExhausted, 3, "gave up")
	require.NoError(t, err)
	_, err = r.Transition("session_1", types.StateInitializing, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "exhausted is terminal")

	_, err = r.Transition("missing", types.StateInitializing, 0, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_ReadyIDsSorted(t *testing.T) {
	r := NewRegistry(fixedClock)
	for _, id := range []string{"session_3", "session_1", "session_2"} {
		_, _ = r.Ensure(id)
		_, _ = r.Transition(id, types.StateInitializing, 0, "")
	}
	_, _ = r.MarkReady("session_3", "79000000003")
	_, _ = r.MarkReady("session_1", "79000000001")

	assert.Equal(t, []string{"session_1", "session_3"}, r.ReadyIDs())
	assert.Equal(t, 2, r.ReadyCount())

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "session_1", snap[0].ID)
	assert.Equal(t, types.StateInitializing, snap[1].State)
}

func TestRegistry_ClientBinding(t *testing.T) {
	r := NewRegistry(fixedClock)
	first, second := &stubClient{}, &stubClient{}

	assert.Nil(t, r.BindClient("session_1", first))
	assert.Same(t, first, r.BindClient("session_1", second))

	got, ok := r.Client("session_1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, r.Clients(), 1)

	assert.Same(t, second, r.UnbindClient("session_1"))
	_, ok = r.Client("session_1")
	assert.False(t, ok)
}

func TestRegistry_NextSessionID(t *testing.T) {
	r := NewRegistry(fixedClock)
	assert.Equal(t, "session_1", r.NextSessionID())

	_, _ = r.Ensure("session_1")
	_, _ = r.Ensure("session_3")
	_, _ = r.Ensure("custom")
	assert.Equal(t, "session_2", r.NextSessionID())
}

func TestRegistry_Load(t *testing.T) {
	r := NewRegistry(fixedClock)
	ids := r.Load([]*types.SessionRecord{
		{ID: "session_2", Status: types.SessionStatusActive, PhoneNumber: "79000000002"},
		{ID: "session_1", Status: types.SessionStatusActive},
		{ID: "not valid"},
		nil,
	})

	assert.Equal(t, []string{"session_1", "session_2"}, ids)
	s, ok := r.Get("session_2")
	require.True(t, ok)
	assert.Equal(t, "79000000002", s.PhoneNumber)
	assert.Equal(t, types.SessionState(""), s.State)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(fixedClock)
	_, _ = r.Ensure("session_1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Snapshot()
				_ = r.ReadyIDs()
				_, _ = r.Get("session_1")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		_, _ = r.Ensure("session_1")
	}
	wg.Wait()
}
