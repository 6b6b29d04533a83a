package loop

import "errors"

var (
	ErrLoopAlreadyRunning = errors.New("loop is already running")
	ErrLoopStopped        = errors.New("loop is stopped")
)
