package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidFrame      = errors.New("frame is not a valid command")
	ErrMissingType       = errors.New("command type is required")
)
