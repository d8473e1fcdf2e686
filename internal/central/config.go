package central

import (
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
)

// Config holds the timing parameters of the supervisor.
type Config struct {
	ScanRetries      uint          `yaml:"scan_retries" default:"30"`
	ScanInterval     time.Duration `yaml:"scan_interval" default:"1s"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout" default:"10s"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" default:"5s"`
}

// DefaultConfig returns 30 scan polls 1s apart, a 10s notification idle
// timeout and a 5s reconnect backoff.
func DefaultConfig() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// Validate rejects settings the supervisor cannot run with.
func (c Config) Validate() error {
	if c.ScanRetries == 0 {
		return fmt.Errorf("scan_retries must be at least 1")
	}
	if c.ScanInterval < 0 {
		return fmt.Errorf("scan_interval must not be negative, got %s", c.ScanInterval)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("notify_timeout must be positive, got %s", c.NotifyTimeout)
	}
	if c.ReconnectBackoff < 0 {
		return fmt.Errorf("reconnect_backoff must not be negative, got %s", c.ReconnectBackoff)
	}
	return nil
}
