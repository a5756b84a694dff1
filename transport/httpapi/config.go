package httpapi

import "time"

// Config holds transport configuration with environment variable support.
type Config struct {
	SSEKeepAlive   time.Duration `env:"CONSUME_SSE_KEEPALIVE" envDefault:"30s"`
	WSPingInterval time.Duration `env:"CONSUME_WS_PING_INTERVAL" envDefault:"30s"`
	WSWriteTimeout time.Duration `env:"CONSUME_WS_WRITE_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SSEKeepAlive:   30 * time.Second,
		WSPingInterval: 30 * time.Second,
		WSWriteTimeout: 10 * time.Second,
	}
}
