// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultCompletionsURL is the hosted chat-completions endpoint.
	DefaultCompletionsURL = "https://router.huggingface.co/v1/chat/completions"
	// DefaultModelID is the model every request is pinned to.
	DefaultModelID = "microsoft/phi-4:nebius"
	// DefaultModelName is the human-readable label shown in the page header.
	DefaultModelName = "Phi-4 (Microsoft)"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level

	Completion CompletionConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig

	MaxRequestBodySize int64
}

// CompletionConfig describes the outbound inference endpoint.
type CompletionConfig struct {
	URL             string
	ModelID         string
	ModelName       string
	MaxResponseSize int64
}

// SessionConfig controls the lifetime of in-memory chat sessions.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig controls the per-device API token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Completion: CompletionConfig{
			URL:             getEnv("COMPLETIONS_URL", DefaultCompletionsURL),
			ModelID:         getEnv("MODEL_ID", DefaultModelID),
			ModelName:       getEnv("MODEL_NAME", DefaultModelName),
			MaxResponseSize: int64(getEnvInt("MAX_RESPONSE_BODY_BYTES", 10<<20)),
		},
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 20),
		},
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Completion.URL == "" {
		return fmt.Errorf("COMPLETIONS_URL cannot be empty")
	}
	u, err := url.Parse(c.Completion.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("COMPLETIONS_URL must be an absolute URL: %q", c.Completion.URL)
	}
	if c.Completion.ModelID == "" {
		return fmt.Errorf("MODEL_ID cannot be empty")
	}
	if c.Completion.MaxResponseSize <= 0 {
		return fmt.Errorf("MAX_RESPONSE_BODY_BYTES must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
