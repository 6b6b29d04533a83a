// Package warmup runs the message exchange between ready sessions.
//
// Every participating session owns one timer loop: wait a random delay, send
// one message to a random other ready session, record it, repeat. Loops are
// tagged with the run epoch so a restart never revives a stale loop.
package warmup

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"warmupd/internal/conversation"
	"warmupd/internal/events"
	"warmupd/internal/loop"
	"warmupd/internal/messaging"
	"warmupd/internal/metrics"
	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

// StopMode selects what Stop does with pending timers
type StopMode string

const (
	// StopModeCancel cancels every pending timer handle
	StopModeCancel StopMode = "cancel"
	// StopModeDrain leaves timers to fire as no-ops
	StopModeDrain StopMode = "drain"
)

func ParseStopMode(s string) (StopMode, error) {
	switch StopMode(s) {
	case StopModeCancel, "":
		return StopModeCancel, nil
	case StopModeDrain:
		return StopModeDrain, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStopMode, s)
	}
}

// Roster is the view of session state the scheduler needs
type Roster interface {
	ReadyIDs() []string
	IsReady(id string) bool
	Get(id string) (types.Session, bool)
	Client(id string) (messaging.Client, bool)
}

// Options configures a Scheduler
type Options struct {
	Interval    types.WarmupConfig
	StopMode    StopMode
	SendTimeout time.Duration
}

// Deps are the collaborators of a Scheduler. MessageLog may be nil.
type Deps struct {
	Loop       loop.Scheduler
	Roster     Roster
	Engine     *conversation.Engine
	Metrics    *metrics.Aggregator
	MessageLog interfaces.MessageLog
	Publisher  events.Publisher
	Rand       *rand.Rand
	Logger     *zap.Logger
}

// Scheduler must be driven from its loop. Status, Running, Config and
// PendingTimers may be called from any goroutine.
type Scheduler struct {
	deps Deps
	opts Options

	mu      sync.RWMutex
	running bool
	epoch   uint64
	cfg     types.WarmupConfig
	loops   map[string]*timerLoop

	logger *zap.Logger
}

type timerLoop struct {
	epoch   uint64
	timer   loop.Timer
	due     time.Time
	sending bool
}

func New(deps Deps, opts Options) (*Scheduler, error) {
	if err := opts.Interval.Validate(); err != nil {
		return nil, err
	}
	if opts.StopMode == "" {
		opts.StopMode = StopModeCancel
	}
	if _, err := ParseStopMode(string(opts.StopMode)); err != nil {
		return nil, err
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	return &Scheduler{
		deps:   deps,
		opts:   opts,
		cfg:    opts.Interval,
		loops:  make(map[string]*timerLoop),
		logger: deps.Logger.Named("warmup"),
	}, nil
}

// Start begins a run with every ready session. No-op while running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.epoch++
	for id, tl := range s.loops {
		if tl.timer != nil {
			tl.timer.Cancel()
		}
		delete(s.loops, id)
	}

	s.deps.Metrics.Reset()
	ids := s.deps.Roster.ReadyIDs()
	for _, id := range ids {
		s.deps.Engine.Reset(id)
		s.scheduleLocked(id)
	}
	epoch := s.epoch
	s.mu.Unlock()

	s.logger.Info("warmup started", zap.Int("sessions", len(ids)), zap.Uint64("epoch", epoch))
	s.publish(events.TypeWarmupStarted, "", nil)
	s.publishStatus()
}

// AddSession joins a ready session to the running warmup unless it already has a loop
func (s *Scheduler) AddSession(id string) {
	s.mu.Lock()
	if !s.running || !s.deps.Roster.IsReady(id) {
		s.mu.Unlock()
		return
	}
	if _, ok := s.loops[id]; ok {
		s.mu.Unlock()
		return
	}
	s.deps.Engine.Ensure(id)
	s.scheduleLocked(id)
	s.mu.Unlock()

	s.logger.Info("session added to warmup", zap.String("session_id", id))
	s.publish(events.TypeSessionAddedToWarmup, id, events.SessionAccount{SessionID: id})
	s.publishStatus()
}

// Stop ends the run. No-op unless running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.opts.StopMode == StopModeCancel {
		for id, tl := range s.loops {
			s.cancelLocked(id, tl)
		}
	}
	s.mu.Unlock()

	s.logger.Info("warmup stopped", zap.String("mode", string(s.opts.StopMode)))
	s.publish(events.TypeWarmupStopped, "", nil)
	s.publishStatus()
}

// RemoveSession reacts to a session leaving ready
func (s *Scheduler) RemoveSession(id string) {
	s.mu.Lock()
	if tl, ok := s.loops[id]; ok && s.opts.StopMode == StopModeCancel {
		s.cancelLocked(id, tl)
	}
	s.mu.Unlock()

	s.publishStatus()
}

// cancelLocked cancels a pending timer. An in-flight send keeps its entry
// until it completes so the session cannot be scheduled twice.
func (s *Scheduler) cancelLocked(id string, tl *timerLoop) {
	if tl.sending {
		return
	}
	if tl.timer != nil {
		tl.timer.Cancel()
	}
	delete(s.loops, id)
}

// SetConfig replaces the interval bounds for delays drawn from now on
func (s *Scheduler) SetConfig(cfg types.WarmupConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Config() types.WarmupConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// PendingTimers counts loops waiting on a timer
func (s *Scheduler) PendingTimers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, tl := range s.loops {
		if !tl.sending {
			n++
		}
	}
	return n
}

// Participants lists sessions with a live loop, sorted
func (s *Scheduler) Participants() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.loops))
	for id := range s.loops {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Status is the full snapshot observers receive
func (s *Scheduler) Status() types.WarmupStatus {
	s.mu.RLock()
	running := s.running
	var next time.Time
	if running {
		for _, tl := range s.loops {
			if tl.sending || tl.epoch != s.epoch {
				continue
			}
			if next.IsZero() || tl.due.Before(next) {
				next = tl.due
			}
		}
	}
	s.mu.RUnlock()

	return s.deps.Metrics.Status(running, len(s.deps.Roster.ReadyIDs()), next)
}

// drawDelay is uniform over [IntervalMin, IntervalMax] whole seconds
func (s *Scheduler) drawDelay() time.Duration {
	span := s.cfg.IntervalMax - s.cfg.IntervalMin + 1
	return time.Duration(s.cfg.IntervalMin+s.deps.Rand.IntN(span)) * time.Second
}

func (s *Scheduler) scheduleLocked(id string) {
	delay := s.drawDelay()
	tl := &timerLoop{
		epoch: s.epoch,
		due:   s.deps.Loop.Now().Add(delay),
	}
	tl.timer = s.deps.Loop.After(delay, func() { s.fire(id, tl) })
	s.loops[id] = tl

	s.logger.Debug("next warmup message scheduled",
		zap.String("session_id", id), zap.Duration("delay", delay))
}

// fire runs when a session's delay elapses
func (s *Scheduler) fire(id string, tl *timerLoop) {
	s.mu.Lock()
	if s.loops[id] != tl {
		s.mu.Unlock()
		return
	}
	if !s.running || tl.epoch != s.epoch || !s.deps.Roster.IsReady(id) {
		delete(s.loops, id)
		s.mu.Unlock()
		return
	}
	ready := s.deps.Roster.ReadyIDs()
	if len(ready) < 2 {
		delete(s.loops, id)
		s.mu.Unlock()
		return
	}
	tl.sending = true
	tl.timer = nil
	s.mu.Unlock()

	recipients := make([]string, 0, len(ready)-1)
	for _, candidate := range ready {
		if candidate != id {
			recipients = append(recipients, candidate)
		}
	}
	recipient := recipients[s.deps.Rand.IntN(len(recipients))]

	msg, err := s.deps.Engine.NextMessage(id, recipient)
	if err != nil {
		s.logger.Warn("no warmup message available", zap.String("session_id", id), zap.Error(err))
		s.complete(id, tl)
		return
	}

	client, ok := s.deps.Roster.Client(id)
	if !ok {
		s.logger.Warn("warmup send skipped", zap.String("session_id", id), zap.Error(ErrNoClient))
		s.complete(id, tl)
		return
	}
	target, _ := s.deps.Roster.Get(recipient)
	if target.PhoneNumber == "" {
		s.logger.Warn("warmup send skipped", zap.String("recipient", recipient), zap.Error(ErrNoRecipient))
		s.complete(id, tl)
		return
	}
	chatID := messaging.ChatID(target.PhoneNumber)

	s.deps.Loop.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		defer cancel()
		chat, err := client.Chat(ctx, chatID)
		if err != nil {
			return fmt.Errorf("failed to resolve chat %s: %w", chatID, err)
		}
		return chat.Send(ctx, msg.Text)
	}, func(err error) {
		if err != nil {
			s.logger.Error("warmup send failed",
				zap.String("from", id), zap.String("to", recipient), zap.Error(err))
		} else {
			s.recordSent(id, recipient, msg)
		}
		s.complete(id, tl)
	})
}

func (s *Scheduler) recordSent(from, to string, msg types.OutgoingMessage) {
	rec := types.HistoryRecord{
		Time:    s.deps.Loop.Now(),
		From:    from,
		To:      to,
		Message: msg.Text,
	}
	s.deps.Metrics.Record(rec)
	s.deps.Engine.Enqueue(to, from, msg.Text)

	s.logger.Info("warmup message sent",
		zap.String("from", from), zap.String("to", to), zap.String("kind", string(msg.Kind)))
	s.publish(events.TypeWarmupMessageSent, from, rec)

	if s.deps.MessageLog != nil {
		s.deps.Loop.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
			defer cancel()
			return s.deps.MessageLog.RecordWarmupMessage(ctx, rec)
		}, func(err error) {
			if err != nil {
				s.logger.Warn("failed to persist warmup message", zap.Error(err))
			}
		})
	}
}

// complete reschedules the loop if it is still wanted, then broadcasts status
func (s *Scheduler) complete(id string, tl *timerLoop) {
	s.mu.Lock()
	if s.loops[id] == tl {
		tl.sending = false
		if s.running && tl.epoch == s.epoch && s.deps.Roster.IsReady(id) {
			s.scheduleLocked(id)
		} else {
			delete(s.loops, id)
		}
	}
	s.mu.Unlock()

	s.publishStatus()
}

func (s *Scheduler) publishStatus() {
	s.publish(events.TypeWarmupStatus, "", s.Status())
}

func (s *Scheduler) publish(kind events.Type, sessionID string, data any) {
	if s.deps.Publisher == nil {
		return
	}
	s.deps.Publisher.Publish(events.New(kind, s.deps.Loop.Now(), sessionID, data))
}
