package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Realtime.validate("realtime"); err != nil {
		return err
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
		}
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be > 0")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		for i, typ := range c.Journal.Types {
			if typ == "" {
				return fmt.Errorf("journal.types[%d] is empty", i)
			}
		}
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	return nil
}

func (r *RealtimeConfig) validate(prefix string) error {
	if r.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url scheme must be ws or wss, got %q", prefix, u.Scheme)
	}
	if r.MaxReconnectAttempts != nil && *r.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%s.max_reconnect_attempts must be >= 0", prefix)
	}
	if r.ReconnectInterval <= 0 {
		return fmt.Errorf("%s.reconnect_interval must be > 0", prefix)
	}
	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s.heartbeat_interval must be > 0", prefix)
	}
	if r.MessageQueueSize != nil && *r.MessageQueueSize < 0 {
		return fmt.Errorf("%s.message_queue_size must be >= 0", prefix)
	}
	if r.BufferSize < 0 {
		return fmt.Errorf("%s.buffer_size must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
