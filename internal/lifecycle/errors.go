package lifecycle

import "errors"

var (
	ErrRetriesExhausted = errors.New("session retry limit reached")
	ErrSessionExhausted = errors.New("session has permanently failed")
)
