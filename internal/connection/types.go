package connection

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrInvalidConfig = errors.New("invalid connection config")
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://app.regpilot.io/ws)
	Token            string        // Optional bearer token for the Authorization header
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Config configures the Connection Manager. It is fixed for the lifetime
// of a Manager.
type Config struct {
	URL                  string        // WebSocket endpoint
	MaxReconnectAttempts int           // Automatic retries before giving up (0 = never retry)
	ReconnectInterval    time.Duration // Base backoff delay
	HeartbeatInterval    time.Duration // Ping cadence while connected
	MessageQueueSize     int           // Outbound queue capacity

	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultConfig returns sensible defaults. URL must still be set.
func DefaultConfig() Config {
	client := DefaultClientConfig()
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    1 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		MessageQueueSize:     100,
		HandshakeTimeout:     client.HandshakeTimeout,
		WriteTimeout:         client.WriteTimeout,
		BufferSize:           client.BufferSize,
	}
}

// Validate checks that the configuration can drive a Manager.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url scheme must be ws or wss, got %q", ErrInvalidConfig, u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max reconnect attempts must be >= 0", ErrInvalidConfig)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("%w: reconnect interval must be > 0", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be > 0", ErrInvalidConfig)
	}
	if c.MessageQueueSize < 0 {
		return fmt.Errorf("%w: message queue size must be >= 0", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 || c.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidConfig)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func (c Config) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              c.URL,
		Token:            c.Token,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Status         Status
	Attempts       int   // Reconnect attempts since the last successful open
	QueueDepth     int   // Messages waiting on the outbound queue
	QueueEvicted   int64 // Messages dropped because the queue was full
	MessagesSent   int64
	MessagesQueued int64
}
