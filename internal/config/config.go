// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider kinds accepted in PROVIDER.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level
	DBPath      string
	Archive     ArchiveConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	SSE         SSEConfig
	Provider    ProviderConfig
	Content     Content

	GRPCHealthAddr string // empty disables the gRPC health service
	MetricsEnabled bool
}

// ArchiveConfig controls the sqlite transcript archive.
type ArchiveConfig struct {
	Enabled   bool
	QueueSize int
	Retention time.Duration
}

// SessionConfig controls hosted session lifetime.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig bounds submissions per visitor.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the event stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	MaxRequestBodySize int64
}

// ProviderConfig selects and configures the response provider.
type ProviderConfig struct {
	Kind          string
	URL           string
	Timeout       time.Duration // 0 means no timeout
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

// Load reads configuration from environment variables. When
// WIDGET_CONTENT_FILE is set the widget copy is read from that YAML file.
func Load() (*Config, error) {
	queueSize := getEnvInt("ARCHIVE_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DBPath:      getEnv("DB_PATH", "./data/helping-hand.db"),
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("ARCHIVE_ENABLED", true),
			QueueSize: queueSize,
			Retention: getEnvDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		},
		Session: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			MaxRequestBodySize: 1 << 20,
		},
		Provider: ProviderConfig{
			Kind:          strings.ToLower(getEnv("PROVIDER", ProviderHTTP)),
			URL:           getEnv("PROVIDER_URL", "https://jsonplaceholder.typicode.com/posts"),
			Timeout:       getEnvDuration("PROVIDER_TIMEOUT", 0),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Content:        DefaultContent(),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if path := getEnv("WIDGET_CONTENT_FILE", ""); path != "" {
		content, err := LoadContent(path)
		if err != nil {
			return nil, fmt.Errorf("load widget content: %w", err)
		}
		cfg.Content = content
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
	if c.Archive.Enabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when the archive is enabled")
	}
	if c.Archive.QueueSize <= 0 {
		return fmt.Errorf("ARCHIVE_QUEUE_SIZE must be > 0")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT cannot be negative")
	}
	switch c.Provider.Kind {
	case ProviderHTTP:
		if c.Provider.URL == "" {
			return fmt.Errorf("PROVIDER_URL cannot be empty")
		}
	case ProviderOpenAI:
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider.Kind)
	}
	return c.Content.Validate()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the widget API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
