package loop

import (
	"time"

	"go.uber.org/zap"
)

// Manual is a virtual-time Scheduler for deterministic tests.
// It is not safe for concurrent use: drive it from the test goroutine.
type Manual struct {
	now      time.Time
	queue    []func()
	draining bool
	timers   []*manualTimer
	seq      uint64
	logger   *zap.Logger
}

// NewManual creates a virtual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, logger: zap.NewNop()}
}

func (m *Manual) Now() time.Time {
	return m.now
}

// Post runs fn immediately unless a callback is already running, in which
// case it runs right after the current one returns.
func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
	if m.draining {
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		safeCall(m.logger, next)
	}
	m.draining = false
}

func (m *Manual) After(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{owner: m, due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Go runs work synchronously, then posts done
func (m *Manual) Go(work func() error, done func(error)) {
	err := safeWork(m.logger, work)
	m.Post(func() { done(err) })
}

// Advance moves the clock forward by d, firing due timers in due order.
// Timers scheduled by fired callbacks also fire if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		t := m.earliest()
		if t == nil || t.due.After(target) {
			break
		}
		m.remove(t)
		t.fired = true
		if t.due.After(m.now) {
			m.now = t.due
		}
		m.Post(t.fn)
	}
	m.now = target
}

// Pending counts timers that have neither fired nor been cancelled
func (m *Manual) Pending() int {
	return len(m.timers)
}

// NextDue returns the due time of the earliest pending timer
func (m *Manual) NextDue() (time.Time, bool) {
	t := m.earliest()
	if t == nil {
		return time.Time{}, false
	}
	return t.due, true
}

// Delays returns the remaining delay of every pending timer, in schedule order
func (m *Manual) Delays() []time.Duration {
	out := make([]time.Duration, 0, len(m.timers))
	for _, t := range m.timers {
		out = append(out, t.due.Sub(m.now))
	}
	return out
}

func (m *Manual) earliest() *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (m *Manual) remove(target *manualTimer) {
	for i, t := range m.timers {
		if t == target {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	owner     *Manual
	due       time.Time
	seq       uint64
	fn        func()
	fired     bool
	cancelled bool
}

func (t *manualTimer) Cancel() bool {
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	t.owner.remove(t)
	return true
}
