// Package router turns observer frames into commands executed on the event loop.
package router

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"warmupd/internal/loop"
	"warmupd/pkg/types"
)

// Executor runs decoded commands. Both methods are called on the loop.
type Executor interface {
	Execute(connID string, cmd types.Command)
	Fail(connID string, command types.CommandType, err error)
}

// Router implements websocket.Listener
type Router struct {
	loop     loop.Scheduler
	executor Executor
	limiter  *RateLimiter
	logger   *zap.Logger
}

func NewRouter(sched loop.Scheduler, executor Executor, limiter *RateLimiter, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		loop:     sched,
		executor: executor,
		limiter:  limiter,
		logger:   logger.Named("router"),
	}
}

func (r *Router) OnConnect(connID string) {
	r.logger.Debug("observer attached", zap.String("conn_id", connID))
}

// OnFrame decodes one frame and posts it to the loop.
// Decoding and rate-limit failures are answered with a command-error.
func (r *Router) OnFrame(connID string, data []byte) {
	cmd, err := Decode(data)
	if err != nil {
		r.logger.Debug("rejecting frame", zap.String("conn_id", connID), zap.Error(err))
		r.loop.Post(func() { r.executor.Fail(connID, cmd.Type, err) })
		return
	}

	if r.limiter != nil && !r.limiter.Allow(connID) {
		r.logger.Warn("command rate limited", zap.String("conn_id", connID), zap.String("command", string(cmd.Type)))
		r.loop.Post(func() { r.executor.Fail(connID, cmd.Type, ErrRateLimitExceeded) })
		return
	}

	r.loop.Post(func() { r.executor.Execute(connID, cmd) })
}

func (r *Router) OnDisconnect(connID string) {
	if r.limiter != nil {
		r.limiter.Forget(connID)
	}
}

// Decode parses a command frame. Field validation is left to the executor.
func Decode(data []byte) (types.Command, error) {
	var cmd types.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if cmd.Type == "" {
		return cmd, ErrMissingType
	}
	return cmd, nil
}
