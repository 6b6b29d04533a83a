package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled once at package initialization
var (
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	phoneRegex     = regexp.MustCompile(`^[0-9]{5,20}(@c\.us)?$`)
)

const (
	// MaxMessageLength caps test messages and templates
	MaxMessageLength = 4096

	// MaxIntervalSeconds bounds warmup intervals to 30 days
	MaxIntervalSeconds = 30 * 24 * 60 * 60
)

// IsValidSessionID checks that a session ID is 1-64 characters, alphanumeric + underscore/hyphen
func IsValidSessionID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return sessionIDRegex.MatchString(id)
}

// IsValidPhoneNumber accepts bare digits or a chat handle with the @c.us suffix
func IsValidPhoneNumber(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// Validate ensures the interval bounds are positive and ordered.
// IntervalMin == IntervalMax is valid and yields a fixed delay.
func (c WarmupConfig) Validate() error {
	if c.IntervalMin <= 0 || c.IntervalMax <= 0 {
		return ErrInvalidInterval
	}
	if c.IntervalMin > MaxIntervalSeconds || c.IntervalMax > MaxIntervalSeconds {
		return fmt.Errorf("%w: min %d, max %d", ErrIntervalTooLarge, c.IntervalMin, c.IntervalMax)
	}
	if c.IntervalMin > c.IntervalMax {
		return fmt.Errorf("%w: min %d > max %d", ErrIntervalOrder, c.IntervalMin, c.IntervalMax)
	}
	return nil
}

// IsTerminal reports whether no further lifecycle transition can happen
func (s SessionState) IsTerminal() bool {
	return s == StateExhausted
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case "":
		return next == StateInitializing || next == StateExhausted
	case StateInitializing:
		return next == StateAwaitingPairing || next == StateAuthenticated ||
			next == StateReady || next == StateRetrying || next == StateExhausted
	case StateAwaitingPairing:
		return next == StateAwaitingPairing || next == StateAuthenticated ||
			next == StateReady || next == StateRetrying
	case StateAuthenticated:
		return next == StateReady || next == StateRetrying
	case StateReady:
		return next == StateRetrying
	case StateRetrying:
		return next == StateInitializing || next == StateExhausted
	default:
		return false
	}
}

// Validate checks the fields each command type requires
func (c *Command) Validate() error {
	switch c.Type {
	case CommandRequestSessionTable, CommandGetSettings, CommandStopWarmup, CommandStartWarmup,
		CommandGetMessageTemplates, CommandGetMessages, CommandGetWarmupHistory:
		return nil

	case CommandRequestPairing:
		if !IsValidSessionID(c.SessionID) {
			return ErrInvalidSessionID
		}
		return nil

	case CommandSendTestMessage:
		if !IsValidSessionID(c.SessionID) {
			return ErrInvalidSessionID
		}
		if !IsValidPhoneNumber(c.PhoneNumber) {
			return ErrInvalidPhoneNumber
		}
		return validateText(c.Message)

	case CommandSaveSettings:
		if c.Settings == nil {
			return ErrMissingSettings
		}
		return c.Settings.Validate()

	case CommandSaveMessageTemplate:
		return validateText(c.Template)

	case CommandDeleteMessageTemplate:
		if c.Index == nil || *c.Index < 0 {
			return ErrInvalidIndex
		}
		return nil

	default:
		return ErrUnknownCommand
	}
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
