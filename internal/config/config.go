// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	AllowedOrigins  []string
	DBPath          string
	StaticDir       string
	DefaultLanguage string
	Auth            AuthConfig
	Sweep           SweepConfig
	External        ExternalConfig
	RateLimit       RateLimitConfig
	EventLog        EventLogConfig
	RedisURL        string
}

// AuthConfig controls bearer token issuance.
type AuthConfig struct {
	// JWTSecret is generated at startup when empty.
	JWTSecret string
	TokenTTL  time.Duration
}

// SweepConfig controls the periodic cleanup worker.
type SweepConfig struct {
	Interval          time.Duration
	SessionIdleTTL    time.Duration
	ConnectionIdleTTL time.Duration
	EventRetention    time.Duration
}

// ExternalConfig configures collaborator backends.
type ExternalConfig struct {
	Timeout            time.Duration
	TranslatorURLs     []string
	TranslatorGRPCAddr string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	TTSBinary          string
}

// RateLimitConfig configures per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// EventLogConfig controls the asynchronous event log writer.
type EventLogConfig struct {
	Enabled   bool
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("EVENT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		DBPath:          getEnv("DB_PATH", "./data/lingua.db"),
		StaticDir:       getEnv("STATIC_DIR", ""),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("TOKEN_TTL", time.Hour),
		},
		Sweep: SweepConfig{
			Interval:          getEnvDuration("SWEEP_INTERVAL", time.Hour),
			SessionIdleTTL:    getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
			ConnectionIdleTTL: getEnvDuration("CONNECTION_IDLE_TTL", 30*time.Minute),
			EventRetention:    getEnvDuration("EVENT_RETENTION", 90*24*time.Hour),
		},
		External: ExternalConfig{
			Timeout:            getEnvDuration("EXTERNAL_TIMEOUT", 10*time.Second),
			TranslatorURLs:     getEnvList("TRANSLATOR_URLS", []string{"https://libretranslate.com/translate"}),
			TranslatorGRPCAddr: getEnv("TRANSLATOR_GRPC_ADDR", ""),
			OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
			TTSBinary:          getEnv("TTS_BINARY", "espeak"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		EventLog: EventLogConfig{
			Enabled:   getEnvBool("EVENT_LOG_ENABLED", true),
			QueueSize: queueSize,
		},
		RedisURL: getEnv("REDIS_URL", ""),
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DefaultLanguage == "" {
		return fmt.Errorf("DEFAULT_LANGUAGE cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.External.Timeout <= 0 || c.External.Timeout > 10*time.Second {
		return fmt.Errorf("EXTERNAL_TIMEOUT must be in (0, 10s]")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.EventLog.QueueSize <= 0 {
		return fmt.Errorf("EVENT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
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

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
