package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	// Server
	Port int
	Env  string

	// CORS
	AllowedOrigins []string

	// Shared secret game servers send on enqueue requests
	IngestToken string

	// Storage
	StoreDriver      string
	PostgresURL      string
	PostgresMaxConns int

	// Optional sinks; empty disables them
	RedisURL      string
	ClickHouseURL string

	// Aggregation retries
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// Scoreboard export
	ExportBatchSize     int
	ExportFlushInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables, after reading a .env
// file from the working directory if one exists.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Env:  getEnv("ENV", "development"),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		PostgresMaxConns: getEnvInt("POSTGRES_MAX_CONNS", 10),

		RedisURL:      os.Getenv("REDIS_URL"),
		ClickHouseURL: os.Getenv("CLICKHOUSE_URL"),

		RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 10),
		RetryInitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
		RetryMaxInterval:     getEnvDuration("RETRY_MAX_INTERVAL", 30*time.Second),

		ExportBatchSize:     getEnvInt("EXPORT_BATCH_SIZE", 500),
		ExportFlushInterval: getEnvDuration("EXPORT_FLUSH_INTERVAL", 2*time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	// CORS
	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.IngestToken, err = getEnvRequired("INGEST_TOKEN"); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
			return nil, err
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	if cfg.RetryMaxAttempts < 0 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		return nil, fmt.Errorf("RETRY_MAX_INTERVAL (%s) is shorter than RETRY_INITIAL_INTERVAL (%s)",
			cfg.RetryMaxInterval, cfg.RetryInitialInterval)
	}

	return cfg, nil
}

// IsProduction reports whether ENV selects production logging
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
