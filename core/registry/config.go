package registry

import (
	"time"

	"github.com/dmitrymomot/relaycast/core/stream"
)

// Config holds registry configuration with environment variable support.
// The default retention mirrors the 7-day window applied to channel logs.
type Config struct {
	Retention     time.Duration `env:"CHANNEL_RETENTION" envDefault:"168h"`
	CheckInterval time.Duration `env:"CHANNEL_RETENTION_CHECK_INTERVAL" envDefault:"1m"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Retention:     168 * time.Hour,
		CheckInterval: time.Minute,
	}
}

// NewFromConfig creates a Registry from configuration. Additional options
// override config values.
func NewFromConfig(broker *stream.Broker, cfg Config, opts ...Option) *Registry {
	allOpts := append([]Option{
		WithRetention(cfg.Retention),
		WithCheckInterval(cfg.CheckInterval),
	}, opts...)
	return New(broker, allOpts...)
}
