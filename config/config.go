package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Usage accounting
	UsageTimezone string // IANA zone for daily/monthly boundaries, default: UTC

	// Routing
	ClassifierMode string // "heuristic" or "remote"
	ClassifierURL  string // required when ClassifierMode == "remote"

	// Model backends
	ModelEndpoint string        // OpenAI-compatible completion endpoint; empty = static local backend
	ModelAPIKey   string
	ModelTimeout  time.Duration // per-invocation deadline, default: 60s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitQPM int64 // queries per minute per user, default: 60
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		UsageTimezone:        getEnv("USAGE_TIMEZONE", "UTC"),
		ClassifierMode:       getEnv("CLASSIFIER_MODE", "heuristic"),
		ClassifierURL:        os.Getenv("CLASSIFIER_URL"),
		ModelEndpoint:        os.Getenv("MODEL_ENDPOINT"),
		ModelAPIKey:          os.Getenv("MODEL_API_KEY"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	timeoutStr := getEnv("MODEL_TIMEOUT_SECONDS", "60")
	timeoutSec, err := strconv.Atoi(timeoutStr)
	if err != nil || timeoutSec <= 0 {
		return nil, fmt.Errorf("invalid MODEL_TIMEOUT_SECONDS: %q", timeoutStr)
	}
	cfg.ModelTimeout = time.Duration(timeoutSec) * time.Second

	qpmStr := getEnv("DEFAULT_RATE_LIMIT_QPM", "60")
	qpm, err := strconv.ParseInt(qpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_QPM: %w", err)
	}
	cfg.DefaultRateLimitQPM = qpm

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if _, err := time.LoadLocation(cfg.UsageTimezone); err != nil {
		return nil, fmt.Errorf("invalid USAGE_TIMEZONE: %w", err)
	}
	if cfg.ClassifierMode != "heuristic" && cfg.ClassifierMode != "remote" {
		return nil, fmt.Errorf("invalid CLASSIFIER_MODE: %q", cfg.ClassifierMode)
	}
	if cfg.ClassifierMode == "remote" && cfg.ClassifierURL == "" {
		return nil, fmt.Errorf("CLASSIFIER_URL is required when CLASSIFIER_MODE=remote")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
