// Package loop serializes core state transitions onto a single goroutine.
package loop

import "time"

// Scheduler runs callbacks one at a time and owns the notion of time.
// Callbacks must not block: blocking work goes through Go.
type Scheduler interface {
	// Now returns the scheduler clock
	Now() time.Time

	// Post queues fn to run on the loop
	Post(fn func())

	// After runs fn on the loop once d has elapsed
	After(d time.Duration, fn func()) Timer

	// Go runs work off the loop and posts done with its result
	Go(work func() error, done func(error))
}

// Timer is a cancellable handle for a pending After callback
type Timer interface {
	// Cancel prevents the callback from running.
	// It reports false when the callback already ran or was cancelled.
	Cancel() bool
}
