package types

import "errors"

// Validation errors shared by the transport and the core
var (
	ErrInvalidSessionID   = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidPhoneNumber = errors.New("phone number must be 5-20 digits, optionally suffixed with @c.us")
	ErrInvalidInterval    = errors.New("warmup intervals must be positive")
	ErrIntervalOrder      = errors.New("warmup interval min must not exceed max")
	ErrIntervalTooLarge   = errors.New("warmup interval exceeds 30 days")
	ErrMissingSettings    = errors.New("settings payload is required")
	ErrInvalidIndex       = errors.New("template index must be a non-negative integer")
	ErrEmptyMessage       = errors.New("message text cannot be empty")
	ErrMessageTooLong     = errors.New("message text exceeds 4096 bytes")
	ErrUnknownCommand     = errors.New("unknown command type")
)
