package session

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidSessionID  = errors.New("invalid session ID")
	ErrAccountInUse      = errors.New("account is already paired to another ready session")
)
