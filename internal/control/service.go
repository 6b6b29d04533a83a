// Package control executes observer commands against the core.
package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"warmupd/internal/events"
	"warmupd/internal/loop"
	"warmupd/internal/messaging"
	"warmupd/internal/pairing"
	"warmupd/pkg/interfaces"
	"warmupd/pkg/types"
)

// Lifecycle is the part of the lifecycle controller reachable from commands
type Lifecycle interface {
	RequestPairingArtifact(id string) (pairing.Artifact, bool, error)
	ProvisionSession() (string, error)
}

// Warmup is the part of the warmup scheduler reachable from commands
type Warmup interface {
	Start()
	Stop()
	Running() bool
	SetConfig(cfg types.WarmupConfig) error
	Config() types.WarmupConfig
}

// Sessions is a read view over the session registry
type Sessions interface {
	Snapshot() []types.Session
	ReadyCount() int
	Client(id string) (messaging.Client, bool)
}

// History provides the in-memory warmup history
type History interface {
	History() []types.HistoryRecord
}

// Options toggles optional command behaviour
type Options struct {
	// AutoProvision makes request-session-table also create a new session
	AutoProvision bool
	// PersistSettings writes saved settings to the settings store
	PersistSettings bool
	SendTimeout     time.Duration
}

// Deps are the collaborators of a Service. Settings may be nil.
type Deps struct {
	Loop      loop.Scheduler
	Lifecycle Lifecycle
	Warmup    Warmup
	Sessions  Sessions
	History   History
	Templates interfaces.TemplateStore
	Settings  interfaces.SettingsStore
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Service must be driven from the loop
type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Service{deps: deps, opts: opts, logger: deps.Logger.Named("control")}
}

// Execute runs cmd on behalf of connection connID.
// Failures are answered with a command-error reply to that connection.
func (s *Service) Execute(connID string, cmd types.Command) {
	if err := s.execute(connID, cmd); err != nil {
		s.logger.Warn("command failed",
			zap.String("conn_id", connID), zap.String("command", string(cmd.Type)), zap.Error(err))
		s.Fail(connID, cmd.Type, err)
	}
}

// Fail sends a command-error reply
func (s *Service) Fail(connID string, command types.CommandType, err error) {
	s.reply(connID, events.TypeCommandError, events.CommandError{Command: command, Error: err.Error()})
}

func (s *Service) execute(connID string, cmd types.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Type {
	case types.CommandRequestSessionTable:
		s.reply(connID, events.TypeSessionTableSnapshot, events.SessionTable{Sessions: s.deps.Sessions.Snapshot()})
		if s.opts.AutoProvision {
			id, err := s.deps.Lifecycle.ProvisionSession()
			if err != nil {
				return fmt.Errorf("failed to provision session: %w", err)
			}
			s.logger.Info("provisioned session", zap.String("session_id", id))
		}
		return nil

	case types.CommandRequestPairing:
		artifact, ok, err := s.deps.Lifecycle.RequestPairingArtifact(cmd.SessionID)
		if err != nil {
			return err
		}
		if ok {
			s.reply(connID, events.TypePairingArtifactReady, events.PairingArtifact{
				SessionID: artifact.SessionID,
				DataURL:   artifact.DataURL,
				ExpiresAt: artifact.ExpiresAt,
			})
		}
		return nil

	case types.CommandSendTestMessage:
		s.sendTestMessage(connID, cmd)
		return nil

	case types.CommandSaveSettings:
		return s.saveSettings(connID, *cmd.Settings)

	case types.CommandGetSettings:
		s.reply(connID, events.TypeCurrentSettings, s.deps.Warmup.Config())
		return nil

	case types.CommandStopWarmup:
		s.deps.Warmup.Stop()
		return nil

	case types.CommandStartWarmup:
		if s.deps.Warmup.Running() {
			return nil
		}
		if s.deps.Sessions.ReadyCount() < 2 {
			return ErrNotEnoughSessions
		}
		s.deps.Warmup.Start()
		return nil

	case types.CommandGetMessageTemplates:
		s.reply(connID, events.TypeMessageTemplateList, events.TemplateList{Templates: s.deps.Templates.List()})
		return nil

	case types.CommandSaveMessageTemplate:
		if err := s.deps.Templates.Add(cmd.Template); err != nil {
			return err
		}
		s.broadcastTemplates()
		return nil

	case types.CommandDeleteMessageTemplate:
		if err := s.deps.Templates.Delete(*cmd.Index); err != nil {
			return err
		}
		s.broadcastTemplates()
		return nil

	case types.CommandGetMessages:
		s.reply(connID, events.TypeMessages, events.TemplateList{Templates: s.deps.Templates.List()})
		return nil

	case types.CommandGetWarmupHistory:
		s.reply(connID, events.TypeWarmupHistorySnapshot, events.WarmupHistory{Messages: s.deps.History.History()})
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Type)
	}
}

func (s *Service) sendTestMessage(connID string, cmd types.Command) {
	client, ok := s.deps.Sessions.Client(cmd.SessionID)
	if !ok {
		s.reply(connID, events.TypeTestMessageResult, events.TestMessageResult{
			SessionID: cmd.SessionID,
			Error:     ErrSessionNotFound.Error(),
		})
		return
	}

	chatID := messaging.ChatID(cmd.PhoneNumber)
	s.deps.Loop.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		defer cancel()
		return client.SendMessage(ctx, chatID, cmd.Message)
	}, func(err error) {
		result := events.TestMessageResult{SessionID: cmd.SessionID, Success: err == nil}
		if err != nil {
			s.logger.Error("test message failed", zap.String("session_id", cmd.SessionID), zap.Error(err))
			result.Error = err.Error()
		}
		s.reply(connID, events.TypeTestMessageResult, result)
	})
}

func (s *Service) saveSettings(connID string, cfg types.WarmupConfig) error {
	if err := s.deps.Warmup.SetConfig(cfg); err != nil {
		return err
	}
	if !s.opts.PersistSettings || s.deps.Settings == nil {
		s.settingsSaved(connID)
		return nil
	}

	s.deps.Loop.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		defer cancel()
		return s.deps.Settings.SaveWarmupConfig(ctx, cfg)
	}, func(err error) {
		if err != nil {
			s.logger.Error("failed to persist settings", zap.Error(err))
			s.Fail(connID, types.CommandSaveSettings, fmt.Errorf("settings applied but not persisted: %w", err))
			return
		}
		s.settingsSaved(connID)
	})
	return nil
}

func (s *Service) settingsSaved(connID string) {
	s.reply(connID, events.TypeSettingsSaved, nil)
	s.reply(connID, events.TypeCurrentSettings, s.deps.Warmup.Config())
}

func (s *Service) broadcastTemplates() {
	s.publish(events.New(events.TypeMessageTemplateList, s.deps.Loop.Now(), "",
		events.TemplateList{Templates: s.deps.Templates.List()}))
}

func (s *Service) reply(connID string, kind events.Type, data any) {
	s.publish(events.Reply(connID, kind, s.deps.Loop.Now(), data))
}

func (s *Service) publish(e events.Event) {
	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(e)
	}
}
