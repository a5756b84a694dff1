package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/relaycast/core/registry"
	"github.com/dmitrymomot/relaycast/core/server"
	"github.com/dmitrymomot/relaycast/core/stream"
	redisdb "github.com/dmitrymomot/relaycast/integration/database/redis"
	"github.com/dmitrymomot/relaycast/transport/httpapi"
)

type config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// MemoryLog switches the broker to the in-memory log backend. Handy for
	// local development without Redis; nothing survives a restart.
	MemoryLog bool `env:"MEMORY_LOG" envDefault:"false"`

	// DemoProduceInterval is the publish cadence of the built-in producer
	// launched by POST /start/{channel}.
	DemoProduceInterval time.Duration `env:"DEMO_PRODUCE_INTERVAL" envDefault:"1s"`

	Redis     redisdb.Config
	Server    server.Config
	Registry  registry.Config
	Transport httpapi.Config
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		log    stream.Log
		health func(context.Context) error
	)
	if cfg.MemoryLog {
		logger.Warn("using in-memory log backend, messages will not survive a restart")
		log = stream.NewMemoryLog()
	} else {
		client, err := redisdb.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		log = stream.NewRedisLog(client,
			stream.WithRedisLogLogger(logger),
			stream.WithKeyTTL(cfg.Registry.Retention))
		health = redisdb.Healthcheck(client)
	}

	broker := stream.NewBroker(log, stream.WithBrokerLogger(logger))
	reg := registry.NewFromConfig(broker, cfg.Registry, registry.WithLogger(logger))
	defer reg.Shutdown()

	api := httpapi.New(reg, broker,
		httpapi.WithLogger(logger),
		httpapi.WithConfig(cfg.Transport),
		httpapi.WithProducer(demoProducer(cfg.DemoProduceInterval)),
		httpapi.WithHealthcheck(health))

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := srv.Start(ctx, api.Router()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return srv.Stop()
}

// demoProducer publishes a counter message on every tick, mirroring what an
// upstream data source would feed into a channel.
func demoProducer(interval time.Duration) registry.ProducerFunc {
	return func(ctx context.Context, channel string, broker *stream.Broker) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var counter int
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				counter++
				payload, err := json.Marshal(map[string]any{
					"id":      counter,
					"content": fmt.Sprintf("Message %d", counter),
				})
				if err != nil {
					return err
				}
				if _, err := broker.Publish(ctx, channel, payload, stream.WithProducerID("demo-producer")); err != nil {
					return err
				}
			}
		}
	}
}
