package config

import (
	"time"

	"github.com/rickgao/regpilot-realtime/internal/connection"
)

// Config is the root configuration for a realtime client.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
}

// RealtimeConfig holds the connection manager settings.
// MaxReconnectAttempts and MessageQueueSize are pointers because 0 is a
// meaningful value for both.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"`
	Token                string        `yaml:"token"` // Bearer token for the handshake
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	MessageQueueSize     *int          `yaml:"message_queue_size"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// JournalConfig holds the received-message journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Types         []string      `yaml:"types"` // Message types to record
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Connection converts the realtime section into a connection.Config.
// Call after defaults have been applied.
func (r RealtimeConfig) Connection() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = r.URL
	cfg.Token = r.Token
	if r.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *r.MaxReconnectAttempts
	}
	if r.MessageQueueSize != nil {
		cfg.MessageQueueSize = *r.MessageQueueSize
	}
	if r.ReconnectInterval != 0 {
		cfg.ReconnectInterval = r.ReconnectInterval
	}
	if r.HeartbeatInterval != 0 {
		cfg.HeartbeatInterval = r.HeartbeatInterval
	}
	if r.HandshakeTimeout != 0 {
		cfg.HandshakeTimeout = r.HandshakeTimeout
	}
	if r.WriteTimeout != 0 {
		cfg.WriteTimeout = r.WriteTimeout
	}
	if r.BufferSize != 0 {
		cfg.BufferSize = r.BufferSize
	}
	return cfg
}
