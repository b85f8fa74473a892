package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}

	if len(c.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for i, m := range c.Markets {
		if m.Name == "" {
			return fmt.Errorf("markets[%d].name is required", i)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("markets[%d]: duplicate market %q", i, m.Name)
		}
		seen[m.Name] = struct{}{}
		if len(m.Channels) == 0 {
			return fmt.Errorf("markets[%d].channels is required", i)
		}
		if m.Delayed && m.Endpoint != "" {
			return fmt.Errorf("markets[%d]: delayed and endpoint are mutually exclusive", i)
		}
	}

	if c.Stream.BufferCapacity < 1 {
		return errors.New("stream.buffer_capacity must be >= 1")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		return errors.New("stream.max_reconnect_attempts must be >= 0")
	}

	if c.Database.Enabled {
		if err := c.Database.DB.validate("database.timescale"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
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
