// Package lifecycle drives each session from initialization to ready and
// through fixed-delay retries after failures.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"warmupd/internal/events"
	"warmupd/internal/loop"
	"warmupd/internal/messaging"
	"warmupd/internal/pairing"
	"warmupd/internal/session"
	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

// Warmup is the part of the warmup scheduler the controller drives
type Warmup interface {
	Running() bool
	Start()
	AddSession(id string)
	RemoveSession(id string)
}

// Config bounds retries and adapter calls
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	InitTimeout time.Duration
	// MinWarmupSessions is the ready count that auto-starts the warmup
	MinWarmupSessions int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        5 * time.Second,
		InitTimeout:       3 * time.Minute,
		MinWarmupSessions: 2,
	}
}

// Deps are the collaborators of a Controller. Store may be nil.
type Deps struct {
	Loop      loop.Scheduler
	Registry  *session.Registry
	Factory   messaging.Factory
	Store     interfaces.SessionStore
	Artifacts *pairing.Cache
	Publisher events.Publisher
	Warmup    Warmup
	Logger    *zap.Logger
}

// Controller owns every lifecycle transition. All methods must run on the loop.
type Controller struct {
	deps     Deps
	cfg      Config
	attempts map[string]*attempt
	nextGen  uint64
	logger   *zap.Logger

	// OnPersisted, when set, receives the result of every ready-state persist
	OnPersisted func(sessionID string, err error)
}

// attempt is one adapter instance. Events carry the generation they were
// registered with; events from an older generation are ignored.
type attempt struct {
	gen     uint64
	retries int
	client  messaging.Client
	failed  bool
}

func New(deps Deps, cfg Config) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultConfig().InitTimeout
	}
	if cfg.MinWarmupSessions < 2 {
		cfg.MinWarmupSessions = 2
	}
	return &Controller{
		deps:     deps,
		cfg:      cfg,
		attempts: make(map[string]*attempt),
		logger:   deps.Logger.Named("lifecycle"),
	}
}

// Initialize starts an adapter attempt for the session.
// It is a no-op while an attempt is in progress.
func (c *Controller) Initialize(id string, retryCount int) error {
	current, err := c.deps.Registry.Ensure(id)
	if err != nil {
		c.logger.Warn("refusing to initialize session", zap.String("session_id", id), zap.Error(err))
		return err
	}
	if current.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionExhausted, id)
	}
	if a, ok := c.attempts[id]; ok && !a.failed {
		c.logger.Debug("initialization already in progress", zap.String("session_id", id))
		return nil
	}

	if retryCount >= c.cfg.MaxRetries {
		return c.exhaust(id, retryCount, current.LastError)
	}

	c.nextGen++
	a := &attempt{gen: c.nextGen, retries: retryCount}
	c.attempts[id] = a
	if _, err := c.deps.Registry.Transition(id, types.StateInitializing, retryCount, current.LastError); err != nil {
		c.logger.Warn("unexpected state on initialize", zap.String("session_id", id), zap.Error(err))
	}
	c.logger.Info("initializing session",
		zap.String("session_id", id), zap.Int("retry", retryCount), zap.Uint64("generation", a.gen))

	client, err := c.deps.Factory.NewClient(id, &sessionHandler{c: c, sessionID: id, gen: a.gen})
	if err != nil {
		c.fail(id, a.gen, failureInit, fmt.Sprintf("failed to create client: %v", err))
		return nil
	}
	a.client = client
	if previous := c.deps.Registry.BindClient(id, client); previous != nil && previous != client {
		c.closeClient(id, previous)
	}

	gen := a.gen
	c.deps.Loop.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
		defer cancel()
		return client.Initialize(ctx)
	}, func(err error) {
		if err != nil {
			c.fail(id, gen, failureInit, err.Error())
		}
	})
	return nil
}

func (c *Controller) exhaust(id string, retries int, lastErr string) error {
	delete(c.attempts, id)
	if _, err := c.deps.Registry.Transition(id, types.StateExhausted, retries, lastErr); err != nil {
		c.logger.Warn("unexpected state on exhaustion", zap.String("session_id", id), zap.Error(err))
	}
	c.logger.Error("session initialization abandoned",
		zap.String("session_id", id), zap.Int("retries", retries), zap.String("last_error", lastErr))
	reason := ErrRetriesExhausted.Error()
	if lastErr != "" {
		reason += ": " + lastErr
	}
	c.publish(events.TypeSessionFailed, id, events.SessionFailure{
		SessionID: id,
		Reason:    reason,
		Retries:   retries,
	})
	c.publishTable()
	return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, id, retries)
}

func (c *Controller) current(id string, gen uint64) (*attempt, bool) {
	a, ok := c.attempts[id]
	if !ok || a.gen != gen || a.failed {
		return nil, false
	}
	return a, true
}

func (c *Controller) handlePairingCode(id string, gen uint64, code string) {
	a, ok := c.current(id, gen)
	if !ok {
		return
	}
	if _, err := c.deps.Registry.Transition(id, types.StateAwaitingPairing, a.retries, ""); err != nil {
		c.logger.Debug("ignoring pairing code", zap.String("session_id", id), zap.Error(err))
		return
	}

	artifact, err := c.deps.Artifacts.Put(id, code)
	if err != nil {
		c.logger.Error("failed to render pairing artifact", zap.String("session_id", id), zap.Error(err))
		return
	}
	c.logger.Info("pairing artifact ready", zap.String("session_id", id))
	c.publish(events.TypePairingArtifactReady, id, events.PairingArtifact{
		SessionID: id,
		DataURL:   artifact.DataURL,
		ExpiresAt: artifact.ExpiresAt,
	})
}

func (c *Controller) handleAuthenticated(id string, gen uint64) {
	a, ok := c.current(id, gen)
	if !ok {
		return
	}
	if _, err := c.deps.Registry.Transition(id, types.StateAuthenticated, a.retries, ""); err != nil {
		c.logger.Debug("ignoring authenticated event", zap.String("session_id", id), zap.Error(err))
		return
	}
	c.deps.Artifacts.Forget(id)
	c.logger.Info("session authenticated", zap.String("session_id", id))
	c.publish(events.TypeSessionAuthenticated, id, nil)
}

func (c *Controller) handleReady(id string, gen uint64, accountID string) {
	if _, ok := c.current(id, gen); !ok {
		return
	}
	s, err := c.deps.Registry.MarkReady(id, accountID)
	if errors.Is(err, session.ErrAccountInUse) {
		c.fail(id, gen, failureAuth, err.Error())
		return
	}
	if err != nil {
		c.logger.Warn("ignoring ready event", zap.String("session_id", id), zap.Error(err))
		return
	}
	c.deps.Artifacts.Forget(id)
	c.logger.Info("session ready", zap.String("session_id", id), zap.String("phone_number", accountID))
	c.publish(events.TypeSessionReady, id, events.SessionAccount{SessionID: id, PhoneNumber: accountID})

	rec := &types.SessionRecord{
		ID:          id,
		Status:      types.SessionStatusActive,
		PhoneNumber: accountID,
		UpdatedAt:   s.UpdatedAt,
	}
	c.deps.Loop.Go(func() error {
		if c.deps.Store == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
		defer cancel()
		return c.deps.Store.SaveSession(ctx, rec)
	}, func(err error) {
		if err != nil {
			c.logger.Error("failed to persist session", zap.String("session_id", id), zap.Error(err))
		}
		if c.OnPersisted != nil {
			c.OnPersisted(id, err)
		}
		c.publishTable()
		c.joinWarmup(id)
	})
}

// joinWarmup starts the warmup once enough sessions are ready, or adds id to a running one
func (c *Controller) joinWarmup(id string) {
	if c.deps.Warmup == nil || !c.deps.Registry.IsReady(id) {
		return
	}
	switch {
	case c.deps.Warmup.Running():
		c.deps.Warmup.AddSession(id)
	case c.deps.Registry.ReadyCount() >= c.cfg.MinWarmupSessions:
		c.deps.Warmup.Start()
	}
}

type failureKind int

const (
	failureInit failureKind = iota
	failureAuth
	failureDisconnect
)

// fail takes the session out of the active set and schedules the next attempt.
// Only the first failure of an attempt counts.
func (c *Controller) fail(id string, gen uint64, kind failureKind, reason string) {
	a, ok := c.current(id, gen)
	if !ok {
		return
	}
	a.failed = true

	wasReady := c.deps.Registry.IsReady(id)
	if _, err := c.deps.Registry.Transition(id, types.StateRetrying, a.retries, reason); err != nil {
		c.logger.Warn("unexpected state on failure", zap.String("session_id", id), zap.Error(err))
	}
	if client := c.deps.Registry.UnbindClient(id); client != nil {
		c.closeClient(id, client)
	}
	c.deps.Artifacts.Forget(id)
	if wasReady && c.deps.Warmup != nil {
		c.deps.Warmup.RemoveSession(id)
	}

	failure := events.SessionFailure{SessionID: id, Reason: reason, Retries: a.retries}
	switch kind {
	case failureAuth:
		c.logger.Error("session authentication failed", zap.String("session_id", id), zap.String("reason", reason))
		c.publish(events.TypeAuthFailed, id, failure)
	case failureDisconnect:
		c.logger.Warn("session disconnected", zap.String("session_id", id), zap.String("reason", reason))
		c.publish(events.TypeDisconnected, id, failure)
	default:
		c.logger.Error("session initialization failed", zap.String("session_id", id), zap.String("error", reason))
	}

	next := a.retries + 1
	c.deps.Loop.After(c.cfg.RetryDelay, func() {
		if err := c.Initialize(id, next); err != nil && !errors.Is(err, ErrRetriesExhausted) {
			c.logger.Warn("retry did not start", zap.String("session_id", id), zap.Error(err))
		}
	})
}

// RequestPairingArtifact returns the cached artifact, or asks the adapter for a
// fresh code, or initializes the session when it has no client at all
func (c *Controller) RequestPairingArtifact(id string) (pairing.Artifact, bool, error) {
	if s, ok := c.deps.Registry.Get(id); ok && s.State.IsTerminal() {
		return pairing.Artifact{}, false, fmt.Errorf("%w: %s", ErrSessionExhausted, id)
	}
	if artifact, ok := c.deps.Artifacts.Get(id); ok {
		return artifact, true, nil
	}

	client, ok := c.deps.Registry.Client(id)
	if !ok {
		return pairing.Artifact{}, false, c.Initialize(id, 0)
	}
	c.deps.Loop.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
		defer cancel()
		return client.RefreshPairingCode(ctx)
	}, func(err error) {
		if err != nil {
			c.logger.Error("failed to refresh pairing code", zap.String("session_id", id), zap.Error(err))
		}
	})
	return pairing.Artifact{}, false, nil
}

// ProvisionSession creates the next session_N and initializes it
func (c *Controller) ProvisionSession() (string, error) {
	id := c.deps.Registry.NextSessionID()
	return id, c.Initialize(id, 0)
}

// Restore initializes every persisted session, or initialID when there are none
func (c *Controller) Restore(records []*types.SessionRecord, initialID string) []string {
	ids := c.deps.Registry.Load(records)
	if len(ids) == 0 && initialID != "" {
		ids = []string{initialID}
	}
	for _, id := range ids {
		if err := c.Initialize(id, 0); err != nil {
			c.logger.Warn("failed to restore session", zap.String("session_id", id), zap.Error(err))
		}
	}
	c.logger.Info("sessions restored", zap.Int("count", len(ids)))
	return ids
}

// Close closes every bound client
func (c *Controller) Close() {
	for id := range c.deps.Registry.Clients() {
		if client := c.deps.Registry.UnbindClient(id); client != nil {
			c.closeClient(id, client)
		}
	}
	c.attempts = make(map[string]*attempt)
}

func (c *Controller) closeClient(id string, client messaging.Client) {
	if err := client.Close(); err != nil {
		c.logger.Warn("failed to close client", zap.String("session_id", id), zap.Error(err))
	}
}

func (c *Controller) publishTable() {
	c.publish(events.TypeSessionTableSnapshot, "", events.SessionTable{Sessions: c.deps.Registry.Snapshot()})
}

func (c *Controller) publish(kind events.Type, sessionID string, data any) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.Publish(events.New(kind, c.deps.Loop.Now(), sessionID, data))
}

// sessionHandler forwards adapter events onto the loop
type sessionHandler struct {
	c         *Controller
	sessionID string
	gen       uint64
}

func (h *sessionHandler) OnPairingCode(code string) {
	h.c.deps.Loop.Post(func() { h.c.handlePairingCode(h.sessionID, h.gen, code) })
}

func (h *sessionHandler) OnAuthenticated() {
	h.c.deps.Loop.Post(func() { h.c.handleAuthenticated(h.sessionID, h.gen) })
}

func (h *sessionHandler) OnReady(accountID string) {
	h.c.deps.Loop.Post(func() { h.c.handleReady(h.sessionID, h.gen, accountID) })
}

func (h *sessionHandler) OnAuthFailure(reason string) {
	h.c.deps.Loop.Post(func() { h.c.fail(h.sessionID, h.gen, failureAuth, reason) })
}

func (h *sessionHandler) OnDisconnected(reason string) {
	h.c.deps.Loop.Post(func() { h.c.fail(h.sessionID, h.gen, failureDisconnect, reason) })
}
