package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"warmupd/internal/api"
	"warmupd/internal/config"
	"warmupd/internal/control"
	"warmupd/internal/conversation"
	"warmupd/internal/database"
	"warmupd/internal/events"
	"warmupd/internal/hub"
	"warmupd/internal/lifecycle"
	"warmupd/internal/loop"
	"warmupd/internal/messaging"
	"warmupd/internal/messaging/memory"
	"warmupd/internal/metrics"
	"warmupd/internal/pairing"
	"warmupd/internal/router"
	"warmupd/internal/session"
	"warmupd/internal/templates"
	"warmupd/internal/warmup"
	"warmupd/internal/websocket"
	dbconfig "warmupd/pkg/database"
	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

// Application owns every component of the daemon
type Application struct {
	config *config.Config
	logger *zap.Logger

	loop       *loop.Loop
	dbManager  *database.Manager
	templates  *templates.FileStore
	sessions   *session.Registry
	bus        *events.Bus
	metrics    *metrics.Aggregator
	network    *memory.Network
	warmup     *warmup.Scheduler
	lifecycle  *lifecycle.Controller
	control    *control.Service
	limiter    *router.RateLimiter
	registry   *websocket.Registry
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewApplication builds the component graph in dependency order:
// Loop → Database → Templates/Sessions/Events → Messaging → Warmup → Lifecycle → Control → Transport → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Event loop, the only goroutine that mutates session and warmup state
	eventLoop := loop.New(logger)

	// STEP 2: Database (optional)
	var dbManager *database.Manager
	if cfg.Database.Enabled {
		var err error
		dbManager, err = openDatabase(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
	}
	app := &Application{config: cfg, logger: logger, loop: eventLoop, dbManager: dbManager}

	// STEP 3: Templates, session registry, events and metrics
	store, err := templates.Open(cfg.Templates.Path, logger)
	if err != nil {
		app.closeDatabase()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	app.templates = store
	app.sessions = session.NewRegistry(eventLoop.Now)
	app.bus = events.NewBus(events.WithLogger(logger))
	app.metrics = metrics.NewAggregator(cfg.Warmup.HistoryLimit)

	seed := cfg.Warmup.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	engine := conversation.NewEngine(store, rand.New(rand.NewPCG(seed, 1)), eventLoop.Now,
		conversation.WithCapacity(cfg.Warmup.QueueCapacity),
		conversation.WithReplies(cfg.Warmup.Replies),
	)

	// STEP 4: Messaging adapter
	network, err := newNetwork(cfg.Messaging, eventLoop, logger)
	if err != nil {
		app.closeDatabase()
		return nil, err
	}
	app.network = network
	artifacts := pairing.NewCache(cfg.Lifecycle.PairingTTL, nil)

	// STEP 5: Warmup scheduler, seeded with persisted settings when enabled
	stopMode, err := warmup.ParseStopMode(cfg.Warmup.StopMode)
	if err != nil {
		app.closeDatabase()
		return nil, err
	}
	warmupDeps := warmup.Deps{
		Loop:      eventLoop,
		Roster:    app.sessions,
		Engine:    engine,
		Metrics:   app.metrics,
		Publisher: app.bus,
		Rand:      rand.New(rand.NewPCG(seed, 2)),
		Logger:    logger,
	}
	if dbManager != nil {
		warmupDeps.MessageLog = dbManager
	}
	app.warmup, err = warmup.New(warmupDeps, warmup.Options{
		Interval:    app.initialInterval(),
		StopMode:    stopMode,
		SendTimeout: cfg.Warmup.SendTimeout,
	})
	if err != nil {
		app.closeDatabase()
		return nil, fmt.Errorf("failed to create warmup scheduler: %w", err)
	}

	// STEP 6: Lifecycle controller and command service
	lifecycleDeps := lifecycle.Deps{
		Loop:      eventLoop,
		Registry:  app.sessions,
		Factory:   network,
		Artifacts: artifacts,
		Publisher: app.bus,
		Warmup:    app.warmup,
		Logger:    logger,
	}
	controlDeps := control.Deps{
		Loop:      eventLoop,
		Warmup:    app.warmup,
		Sessions:  app.sessions,
		History:   app.metrics,
		Templates: store,
		Publisher: app.bus,
		Logger:    logger,
	}
	if dbManager != nil {
		lifecycleDeps.Store = dbManager
		controlDeps.Settings = dbManager
	}
	app.lifecycle = lifecycle.New(lifecycleDeps, lifecycle.Config{
		MaxRetries:        cfg.Lifecycle.MaxRetries,
		RetryDelay:        cfg.Lifecycle.RetryDelay,
		InitTimeout:       cfg.Lifecycle.InitTimeout,
		MinWarmupSessions: 2,
	})
	controlDeps.Lifecycle = app.lifecycle
	app.control = control.NewService(controlDeps, control.Options{
		AutoProvision:   cfg.Lifecycle.AutoProvision,
		PersistSettings: cfg.Warmup.PersistSettings && dbManager != nil,
		SendTimeout:     cfg.Warmup.SendTimeout,
	})

	// STEP 7: Observer transport: router, connection registry, handler, hub
	app.limiter = router.NewRateLimiter(cfg.WebSocket.CommandRate, cfg.WebSocket.CommandBurst, nil)
	commandRouter := router.NewRouter(eventLoop, app.control, app.limiter, logger)
	app.registry = websocket.NewRegistry()
	wsHandler := websocket.NewHandler(app.registry, commandRouter, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger)
	app.messageHub = hub.NewHub(app.bus, app.registry, logger)

	// STEP 8: Read-only HTTP API
	apiDeps := api.Deps{
		Sessions:    app.sessions,
		Warmup:      app.warmup,
		History:     app.metrics,
		Templates:   store,
		Connections: app.registry,
		Logger:      logger,
	}
	if dbManager != nil {
		apiDeps.Health = dbManager
	}
	app.apiServer = api.NewServer(apiDeps)

	// STEP 9: HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", app.apiServer)
	mux.Handle("/health", app.apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

func openDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*database.Manager, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = cfg.Path
	dbConfig.WriteRetryDelay = cfg.WriteRetryDelay
	dbConfig.WriteTimeout = cfg.Timeout

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	return dbManager, nil
}

func newNetwork(cfg *config.MessagingConfig, sched loop.Scheduler, logger *zap.Logger) (*memory.Network, error) {
	switch cfg.Driver {
	case "memory":
		opts := []memory.Option{
			memory.WithPairingDelay(cfg.PairingDelay),
			memory.WithLogger(logger),
		}
		if cfg.AutoPair {
			opts = append(opts, memory.WithAutoPair(cfg.ScanDelay))
		}
		return memory.NewNetwork(sched, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", messaging.ErrUnknownDriver, cfg.Driver)
	}
}

// initialInterval prefers persisted settings over configured defaults
func (app *Application) initialInterval() types.WarmupConfig {
	interval := types.WarmupConfig{
		IntervalMin: app.config.Warmup.IntervalMin,
		IntervalMax: app.config.Warmup.IntervalMax,
	}
	if !app.config.Warmup.PersistSettings || app.dbManager == nil {
		return interval
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Database.Timeout)
	defer cancel()

	saved, err := app.dbManager.LoadWarmupConfig(ctx)
	switch {
	case errors.Is(err, interfaces.ErrSettingsNotFound):
		return interval
	case err != nil:
		app.logger.Warn("failed to load saved warmup settings", zap.Error(err))
		return interval
	}
	if err := saved.Validate(); err != nil {
		app.logger.Warn("ignoring invalid saved warmup settings", zap.Error(err))
		return interval
	}
	return saved
}

// Start runs the loop and hub, restores sessions, then serves HTTP
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting warmupd", zap.String("addr", app.httpServer.Addr))

	// STEP 1: Event loop
	loopCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.loopDone = make(chan struct{})
	go func() {
		defer close(app.loopDone)
		if err := app.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("event loop exited", zap.Error(err))
		}
	}()

	// STEP 2: Hub fans events out to observers
	if err := app.messageHub.Start(loopCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 3: Restore persisted sessions, or create the initial one
	records, err := app.activeSessions(ctx)
	if err != nil {
		app.logger.Warn("failed to load persisted sessions", zap.Error(err))
	}
	initialID := app.config.Lifecycle.InitialSession
	app.loop.Post(func() {
		restored := app.lifecycle.Restore(records, initialID)
		app.logger.Info("sessions restored", zap.Strings("session_ids", restored))
	})

	go app.sweepLimiter(loopCtx)

	// STEP 4: HTTP server
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopCore()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("warmupd started")
		return nil
	case <-ctx.Done():
		app.stopCore()
		return ctx.Err()
	}
}

func (app *Application) activeSessions(ctx context.Context) ([]*types.SessionRecord, error) {
	if app.dbManager == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, app.config.Database.Timeout)
	defer cancel()
	return app.dbManager.ListActiveSessions(ctx)
}

func (app *Application) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.limiter.Cleanup(limiterIdleTimeout); n > 0 {
				app.logger.Debug("dropped idle rate limiters", zap.Int("count", n))
			}
		}
	}
}

// Stop shuts down in reverse order: HTTP → Observers → Core → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down warmupd")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Drop observers
	app.registry.CloseAll()
	if app.messageHub.Running() {
		if err := app.messageHub.Stop(); err != nil {
			app.logger.Warn("message hub shutdown error", zap.Error(err))
		}
	}

	// STEP 3: Stop warmup and close adapters on the loop, then stop the loop
	if app.cancel != nil {
		quiesced := make(chan struct{})
		app.loop.Post(func() {
			app.warmup.Stop()
			app.lifecycle.Close()
			close(quiesced)
		})
		select {
		case <-quiesced:
		case <-ctx.Done():
			app.logger.Warn("timed out stopping the core", zap.Error(ctx.Err()))
		}
		app.stopCore()
		app.waitWorkers(ctx)
	}

	// STEP 4: Close database connections
	app.closeDatabase()

	app.logger.Info("warmupd shutdown complete")
	return nil
}

func (app *Application) stopCore() {
	if app.cancel == nil {
		return
	}
	app.cancel()
	<-app.loopDone
	app.cancel = nil
}

func (app *Application) waitWorkers(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		app.loop.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		app.logger.Warn("abandoning in-flight adapter calls", zap.Error(ctx.Err()))
	}
}

func (app *Application) closeDatabase() {
	if app.dbManager == nil {
		return
	}
	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}
}

// GetAddr returns the configured listen address
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler exposes the HTTP routes without a listener
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
