package config

import (
	"os"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultURL                  = "ws://localhost:8000/ws"
	URLEnvVar                   = "REALTIME_WS_URL"
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 1 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultMessageQueueSize     = 100
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1000
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultJournalBufferSize    = 1000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

// DefaultJournalTypes are recorded when journal.types is empty.
var DefaultJournalTypes = []string{"project_updated", "agent_response"}

// EndpointURL returns the deployment endpoint: REALTIME_WS_URL when set,
// DefaultURL otherwise.
func EndpointURL() string {
	if u := os.Getenv(URLEnvVar); u != "" {
		return u
	}
	return DefaultURL
}

func (c *Config) applyDefaults() {
	// Realtime defaults
	r := &c.Realtime
	if r.URL == "" {
		r.URL = EndpointURL()
	}
	if r.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		r.MaxReconnectAttempts = &n
	}
	if r.ReconnectInterval == 0 {
		r.ReconnectInterval = DefaultReconnectInterval
	}
	if r.HeartbeatInterval == 0 {
		r.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if r.MessageQueueSize == nil {
		n := DefaultMessageQueueSize
		r.MessageQueueSize = &n
	}
	if r.HandshakeTimeout == 0 {
		r.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultWriteTimeout
	}
	if r.BufferSize == 0 {
		r.BufferSize = DefaultBufferSize
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Journal defaults
	if len(c.Journal.Types) == 0 {
		c.Journal.Types = append([]string(nil), DefaultJournalTypes...)
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}
	applyDBDefaults(&c.Journal.Database)
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
