package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"warmupd/internal/loop"
	"warmupd/pkg/types"
)

type failure struct {
	connID  string
	command types.CommandType
	err     error
}

type recordingExecutor struct {
	executed []types.Command
	failures []failure
}

func (e *recordingExecutor) Execute(connID string, cmd types.Command) {
	e.executed = append(e.executed, cmd)
}

func (e *recordingExecutor) Fail(connID string, command types.CommandType, err error) {
	e.failures = append(e.failures, failure{connID, command, err})
}

func newRouter(t *testing.T, limiter *RateLimiter) (*Router, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	clock := loop.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	return NewRouter(clock, exec, limiter, zaptest.NewLogger(t)), exec
}

func TestDecode(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"delete-message-template","index":2}`))
	require.NoError(t, err)
	assert.Equal(t, types.CommandDeleteMessageTemplate, cmd.Type)
	require.NotNil(t, cmd.Index)
	assert.Equal(t, 2, *cmd.Index)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = Decode([]byte(`{"sessionId":"session_1"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestRouter_ExecutesDecodedCommands(t *testing.T) {
	r, exec := newRouter(t, nil)

	r.OnFrame("conn-1", []byte(`{"type":"request-pairing-artifact","sessionId":"session_2"}`))

	require.Len(t, exec.executed, 1)
	assert.Equal(t, types.CommandRequestPairing, exec.executed[0].Type)
	assert.Equal(t, "session_2", exec.executed[0].SessionID)
	assert.Empty(t, exec.failures)
}

func TestRouter_RejectsBadFrames(t *testing.T) {
	r, exec := newRouter(t, nil)

	r.OnFrame("conn-1", []byte(`{"type":`))

	assert.Empty(t, exec.executed)
	require.Len(t, exec.failures, 1)
	assert.Equal(t, "conn-1", exec.failures[0].connID)
	assert.ErrorIs(t, exec.failures[0].err, ErrInvalidFrame)
}

func TestRouter_RateLimitsPerConnection(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 2, func() time.Time { return now })
	r, exec := newRouter(t, limiter)

	frame := []byte(`{"type":"get-settings"}`)
	for i := 0; i < 3; i++ {
		r.OnFrame("conn-1", frame)
	}
	r.OnFrame("conn-2", frame)

	assert.Len(t, exec.executed, 3)
	require.Len(t, exec.failures, 1)
	assert.Equal(t, types.CommandGetSettings, exec.failures[0].command)
	assert.ErrorIs(t, exec.failures[0].err, ErrRateLimitExceeded)

	r.OnDisconnect("conn-1")
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1, func() time.Time { return now })

	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("a"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10, 10, func() time.Time { return now })

	limiter.Allow("old")
	now = now.Add(10 * time.Minute)
	limiter.Allow("fresh")

	assert.Equal(t, 1, limiter.Cleanup(5*time.Minute))
	assert.Equal(t, 1, limiter.Len())
}
