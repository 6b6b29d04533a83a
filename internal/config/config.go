// Package config loads warmupd settings from defaults, environment and file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"warmupd/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. WARMUPD_HTTP_PORT
const EnvPrefix = "WARMUPD"

type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Database  *DatabaseConfig  `mapstructure:"database"`
	Warmup    *WarmupConfig    `mapstructure:"warmup"`
	Lifecycle *LifecycleConfig `mapstructure:"lifecycle"`
	Templates *TemplatesConfig `mapstructure:"templates"`
	Messaging *MessagingConfig `mapstructure:"messaging"`
	Log       *LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	// CommandRate is the sustained commands per second allowed per connection
	CommandRate  float64 `mapstructure:"command_rate"`
	CommandBurst int     `mapstructure:"command_burst"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WriteRetryDelay time.Duration `mapstructure:"write_retry_delay"`
}

// WarmupConfig holds the warmup defaults; interval bounds are in seconds
type WarmupConfig struct {
	IntervalMin     int           `mapstructure:"interval_min"`
	IntervalMax     int           `mapstructure:"interval_max"`
	StopMode        string        `mapstructure:"stop_mode"`
	Seed            uint64        `mapstructure:"seed"`
	PersistSettings bool          `mapstructure:"persist_settings"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	Replies         []string      `mapstructure:"replies"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
}

type LifecycleConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	InitTimeout    time.Duration `mapstructure:"init_timeout"`
	PairingTTL     time.Duration `mapstructure:"pairing_ttl"`
	AutoProvision  bool          `mapstructure:"auto_provision"`
	InitialSession string        `mapstructure:"initial_session"`
}

type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

type MessagingConfig struct {
	// Driver selects the adapter; only "memory" ships in-tree
	Driver       string        `mapstructure:"driver"`
	PairingDelay time.Duration `mapstructure:"pairing_delay"`
	// AutoPair completes pairing after ScanDelay without a scan
	AutoPair  bool          `mapstructure:"auto_pair"`
	ScanDelay time.Duration `mapstructure:"scan_delay"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         3002,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     1024,
			MaxMessageSize: 64 * 1024,
			CommandRate:    5,
			CommandBurst:   20,
		},
		Database: &DatabaseConfig{
			Enabled:         true,
			Path:            "./data/warmupd.db",
			Timeout:         30 * time.Second,
			WriteRetryDelay: 5 * time.Second,
		},
		Warmup: &WarmupConfig{
			IntervalMin:   100,
			IntervalMax:   800,
			StopMode:      "cancel",
			QueueCapacity: 5,
			HistoryLimit:  100,
			SendTimeout:   30 * time.Second,
		},
		Lifecycle: &LifecycleConfig{
			MaxRetries:     3,
			RetryDelay:     5 * time.Second,
			InitTimeout:    3 * time.Minute,
			PairingTTL:     120 * time.Second,
			InitialSession: "session_1",
		},
		Templates: &TemplatesConfig{
			Path: "./dataset.txt",
		},
		Messaging: &MessagingConfig{
			Driver:       "memory",
			PairingDelay: time.Second,
			ScanDelay:    5 * time.Second,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Warmup == nil ||
		c.Lifecycle == nil || c.Templates == nil || c.Messaging == nil || c.Log == nil {
		return errors.New("every configuration section is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.CommandRate <= 0 || c.WebSocket.CommandBurst <= 0 {
		return fmt.Errorf("WebSocket command rate and burst must be positive")
	}

	if c.Database.Enabled {
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.Timeout <= 0 {
			return fmt.Errorf("database timeout must be positive")
		}
		if c.Database.WriteRetryDelay < 0 {
			return fmt.Errorf("database write retry delay cannot be negative")
		}
	}

	interval := types.WarmupConfig{IntervalMin: c.Warmup.IntervalMin, IntervalMax: c.Warmup.IntervalMax}
	if err := interval.Validate(); err != nil {
		return fmt.Errorf("invalid warmup interval: %w", err)
	}
	switch c.Warmup.StopMode {
	case "cancel", "drain":
	default:
		return fmt.Errorf("warmup stop mode must be cancel or drain, got %q", c.Warmup.StopMode)
	}
	if c.Warmup.QueueCapacity <= 0 || c.Warmup.HistoryLimit <= 0 {
		return fmt.Errorf("warmup queue capacity and history limit must be positive")
	}

	if c.Lifecycle.MaxRetries <= 0 {
		return fmt.Errorf("lifecycle max retries must be positive")
	}
	if c.Lifecycle.RetryDelay < 0 {
		return fmt.Errorf("lifecycle retry delay cannot be negative")
	}
	if c.Lifecycle.PairingTTL <= 0 {
		return fmt.Errorf("lifecycle pairing TTL must be positive")
	}

	if c.Templates.Path == "" {
		return fmt.Errorf("templates path cannot be empty")
	}
	if c.Messaging.Driver == "" {
		return fmt.Errorf("messaging driver cannot be empty")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Load resolves the configuration with precedence file > environment > defaults.
// An empty path looks for warmupd.{yaml,toml,json} in the working directory
// and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	Bind(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("warmupd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Bind registers defaults and environment overrides on v
func Bind(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]any{
		"http.host":          d.HTTP.Host,
		"http.port":          d.HTTP.Port,
		"http.read_timeout":  d.HTTP.ReadTimeout,
		"http.write_timeout": d.HTTP.WriteTimeout,

		"websocket.ping_interval":    d.WebSocket.PingInterval,
		"websocket.read_timeout":     d.WebSocket.ReadTimeout,
		"websocket.write_timeout":    d.WebSocket.WriteTimeout,
		"websocket.buffer_size":      d.WebSocket.BufferSize,
		"websocket.max_message_size": d.WebSocket.MaxMessageSize,
		"websocket.command_rate":     d.WebSocket.CommandRate,
		"websocket.command_burst":    d.WebSocket.CommandBurst,

		"database.enabled":           d.Database.Enabled,
		"database.path":              d.Database.Path,
		"database.timeout":           d.Database.Timeout,
		"database.write_retry_delay": d.Database.WriteRetryDelay,

		"warmup.interval_min":     d.Warmup.IntervalMin,
		"warmup.interval_max":     d.Warmup.IntervalMax,
		"warmup.stop_mode":        d.Warmup.StopMode,
		"warmup.seed":             d.Warmup.Seed,
		"warmup.persist_settings": d.Warmup.PersistSettings,
		"warmup.queue_capacity":   d.Warmup.QueueCapacity,
		"warmup.history_limit":    d.Warmup.HistoryLimit,
		"warmup.replies":          d.Warmup.Replies,
		"warmup.send_timeout":     d.Warmup.SendTimeout,

		"lifecycle.max_retries":     d.Lifecycle.MaxRetries,
		"lifecycle.retry_delay":     d.Lifecycle.RetryDelay,
		"lifecycle.init_timeout":    d.Lifecycle.InitTimeout,
		"lifecycle.pairing_ttl":     d.Lifecycle.PairingTTL,
		"lifecycle.auto_provision":  d.Lifecycle.AutoProvision,
		"lifecycle.initial_session": d.Lifecycle.InitialSession,

		"templates.path": d.Templates.Path,

		"messaging.driver":        d.Messaging.Driver,
		"messaging.pairing_delay": d.Messaging.PairingDelay,
		"messaging.auto_pair":     d.Messaging.AutoPair,
		"messaging.scan_delay":    d.Messaging.ScanDelay,

		"log.level":       d.Log.Level,
		"log.development": d.Log.Development,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
