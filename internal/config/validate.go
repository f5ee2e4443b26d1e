package config

import (
	"errors"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Connection.SocketPath) == "" {
		return errors.New("connection.socket_path must be set")
	}
	if c.Connection.CallTimeoutSeconds <= 0 {
		return errors.New("connection.call_timeout_seconds must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	return nil
}
