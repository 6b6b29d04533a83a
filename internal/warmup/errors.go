package warmup

import "errors"

var (
	ErrUnknownStopMode = errors.New("unknown stop mode")
	ErrNoClient        = errors.New("sender has no bound client")
	ErrNoRecipient     = errors.New("recipient has no account id")
)
