package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/store/postgres"
	redisstore "github.com/xraph/conveyor/store/redis"
)

// Store backends selectable through STORE_BACKEND.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// settings holds the process-level environment. Queue tuning lives in
// conveyor.Config and is read by conveyor.LoadConfig.
type settings struct {
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`
	NatsURL      string `env:"NATS_URL"`
	ListenAddr   string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	AuditLog     bool   `env:"AUDIT_LOG"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse environment: %w", err)
	}
	s.StoreBackend = strings.ToLower(s.StoreBackend)
	switch s.StoreBackend {
	case backendMemory:
	case backendPostgres:
		if s.DatabaseURL == "" {
			return s, fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", conveyor.ErrInvalidConfig)
		}
	case backendRedis:
		if s.RedisURL == "" {
			return s, fmt.Errorf("%w: REDIS_URL is required for the redis backend", conveyor.ErrInvalidConfig)
		}
	default:
		return s, fmt.Errorf("%w: unknown STORE_BACKEND %q", conveyor.ErrInvalidConfig, s.StoreBackend)
	}
	return s, nil
}

// newLogger builds a JSON or text handler at the configured level.
func newLogger(s settings, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(s.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore connects the selected backend. The returned cleanup releases
// resources the store does not own and must run after the store is closed.
func openStore(ctx context.Context, s settings, logger *slog.Logger) (st store.Store, cleanup func(), err error) {
	cleanup = func() {}

	switch s.StoreBackend {
	case backendMemory:
		return memory.New(), cleanup, nil

	case backendPostgres:
		pg, err := postgres.New(ctx, s.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, cleanup, nil

	case backendRedis:
		opts, err := goredis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis client", "error", err)
			}
		}
		rs := redisstore.New(client, redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return rs, cleanup, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown STORE_BACKEND %q", conveyor.ErrInvalidConfig, s.StoreBackend)
}
