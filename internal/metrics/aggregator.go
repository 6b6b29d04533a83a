// Package metrics keeps warmup counters and the bounded send history.
package metrics

import (
	"math"
	"sync"
	"time"

	"warmupd/pkg/types"
)

// Aggregator is safe for concurrent use
type Aggregator struct {
	mu           sync.RWMutex
	history      []types.HistoryRecord
	limit        int
	messagesSent int
}

func NewAggregator(limit int) *Aggregator {
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	return &Aggregator{limit: limit}
}

// Record appends a sent message, evicting the oldest past the limit
func (a *Aggregator) Record(rec types.HistoryRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messagesSent++
	if len(a.history) >= a.limit {
		a.history = a.history[1:]
	}
	a.history = append(a.history, rec)
}

// Reset clears the counter and history
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messagesSent = 0
	a.history = nil
}

func (a *Aggregator) MessagesSent() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.messagesSent
}

// AveragePerHour is the retained history size over the span between its first
// and last record, rounded to two decimals
func (a *Aggregator) AveragePerHour() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.averageLocked()
}

func (a *Aggregator) averageLocked() float64 {
	if len(a.history) < 2 {
		return 0
	}
	span := a.history[len(a.history)-1].Time.Sub(a.history[0].Time)
	if span <= 0 {
		return 0
	}
	perHour := float64(len(a.history)) / span.Hours()
	return math.Round(perHour*100) / 100
}

// Status builds a full snapshot. A zero next means no timer is pending.
func (a *Aggregator) Status(running bool, activeSessions int, next time.Time) types.WarmupStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := types.WarmupStatus{
		IsRunning:              running,
		MessagesSent:           a.messagesSent,
		ActiveSessions:         activeSessions,
		TotalMessagesSent:      len(a.history),
		AverageMessagesPerHour: a.averageLocked(),
	}
	if !next.IsZero() {
		status.NextMessageTime = &next
	}
	return status
}

// History returns a copy, oldest first
func (a *Aggregator) History() []types.HistoryRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.HistoryRecord(nil), a.history...)
}
