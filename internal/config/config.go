// Package config loads crushd settings from the environment, after reading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/campuscrush/realtime/internal/apperr"
	"github.com/campuscrush/realtime/internal/auth"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/pool"
	"github.com/campuscrush/realtime/internal/ws"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the full process configuration.
type Config struct {
	Server ws.ServerConfig
	Auth   auth.Config
	Pool   pool.Config
	NATS   events.Config // URL empty disables event publishing

	StoreBackend     string `validate:"oneof=memory redis"`
	RedisAddr        string `validate:"required_if=StoreBackend redis"`
	DatabaseURL      string // empty keeps messages and notifications in memory
	ConnectRateLimit int    `validate:"gte=0"` // per IP per minute; 0 disables
}

// Load reads the given .env files (".env" when none are named; missing files
// are ignored) and then the environment.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	cfg := &Config{
		Server: ws.DefaultServerConfig(),
		Pool:   pool.DefaultConfig(),
		NATS:   events.DefaultConfig(),
	}

	cfg.Server.ListenAddr = getEnv("WS_ADDR", cfg.Server.ListenAddr)
	cfg.Auth.Secret = os.Getenv("JWT_SECRET")
	cfg.Auth.Issuer = os.Getenv("JWT_ISSUER")
	cfg.StoreBackend = getEnv("STORE_BACKEND", BackendMemory)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATS.URL = os.Getenv("NATS_URL")

	ints := []struct {
		key string
		dst *int
	}{
		{"WS_MAX_CONNECTIONS", &cfg.Server.MaxConnections},
		{"WS_SEND_BUFFER", &cfg.Server.SendBuffer},
		{"CONNECT_RATE_LIMIT", &cfg.ConnectRateLimit},
	}
	cfg.ConnectRateLimit = 20
	for _, v := range ints {
		if err := parseInt(v.key, v.dst); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"WS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout},
		{"WS_PING_INTERVAL", &cfg.Server.Heartbeat.Interval},
		{"JWT_LEEWAY", &cfg.Auth.Leeway},
		{"POOL_ANY_MOOD_AFTER", &cfg.Pool.AnyMoodAfter},
		{"POOL_ENTRY_TTL", &cfg.Pool.EntryTTL},
		{"POOL_CLEANUP_INTERVAL", &cfg.Pool.CleanupInterval},
	}
	for _, v := range durations {
		if err := parseDuration(v.key, v.dst); err != nil {
			return nil, err
		}
	}

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.Pool.CleanupInterval <= 0 {
		return nil, fmt.Errorf("config: POOL_CLEANUP_INTERVAL must be positive")
	}
	if err := apperr.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func parseInt(key string, dst *int) error {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func parseDuration(key string, dst *time.Duration) error {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
