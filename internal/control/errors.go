package control

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotEnoughSessions  = errors.New("warmup needs at least two ready sessions")
	ErrUnsupportedCommand = errors.New("command not supported")
)
