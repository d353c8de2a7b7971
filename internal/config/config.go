package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	Model  ModelConfig
	Loop   LoopConfig
	Buffer BufferConfig
	Events EventsConfig
	Tools  ToolsConfig
	Redis  RedisConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr        string
	ReadTimeout time.Duration
	// WriteTimeout bounds the whole response, including long-running
	// streams, so it defaults much higher than the read timeout.
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// ModelConfig holds the model provider connection settings.
type ModelConfig struct {
	BaseURL string
	APIKey  string //nolint:gosec // G117: provider credential config
	Name    string
}

// LoopConfig holds tool-call loop behavior settings.
type LoopConfig struct {
	// RequestDelay is the fixed pause applied before each model stream is
	// opened, to respect upstream rate limits. Zero disables the pause.
	RequestDelay time.Duration

	// MaxRounds bounds generation/dispatch cycles per conversation.
	// Zero means unbounded, matching the historical behavior.
	MaxRounds int
}

// BufferConfig holds session stream-buffer settings.
type BufferConfig struct {
	Dir           string
	FlushInterval time.Duration
	StaleMaxAge   time.Duration
}

// EventsConfig holds structured event log settings.
type EventsConfig struct {
	Dir     string
	Privacy bool
	// MaxBody is the largest logged message body in bytes when Privacy
	// is enabled; longer bodies are truncated with a marker.
	MaxBody int
}

// ToolsConfig holds per-tool settings.
type ToolsConfig struct {
	BraveAPIKey   string //nolint:gosec // G117: search API credential config
	SQLiteTimeout time.Duration
}

// RedisConfig holds optional Redis pub/sub settings. When Addr is empty the
// in-process event bus is used instead.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// Load reads configuration from environment variables. Defaults are safe for
// local development; the provider API key must be set explicitly.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("LOOM_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("LOOM_SERVER_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	requestDelay, err := getEnvDuration("LOOM_LOOP_REQUEST_DELAY", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxRounds, err := getEnvInt("LOOM_LOOP_MAX_ROUNDS", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	flushInterval, err := getEnvDuration("LOOM_BUFFER_FLUSH_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	staleMaxAge, err := getEnvDuration("LOOM_BUFFER_STALE_MAX_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	privacy, err := getEnvBool("LOOM_EVENTS_PRIVACY", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxBody, err := getEnvInt("LOOM_EVENTS_MAX_BODY", 2000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sqliteTimeout, err := getEnvDuration("LOOM_SQLITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("LOOM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("LOOM_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("LOOM_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Model: ModelConfig{
			BaseURL: getEnv("LOOM_MODEL_BASE_URL", "http://localhost:8000/v1"),
			APIKey:  getEnv("LOOM_MODEL_API_KEY", ""),
			Name:    getEnv("LOOM_MODEL_NAME", "qwen2.5-coder-32b-instruct"),
		},
		Loop: LoopConfig{
			RequestDelay: requestDelay,
			MaxRounds:    maxRounds,
		},
		Buffer: BufferConfig{
			Dir:           getEnv("LOOM_BUFFER_DIR", "logs/streams"),
			FlushInterval: flushInterval,
			StaleMaxAge:   staleMaxAge,
		},
		Events: EventsConfig{
			Dir:     getEnv("LOOM_EVENTS_DIR", "logs"),
			Privacy: privacy,
			MaxBody: maxBody,
		},
		Tools: ToolsConfig{
			BraveAPIKey:   getEnv("LOOM_BRAVE_API_KEY", ""),
			SQLiteTimeout: sqliteTimeout,
		},
		Redis: RedisConfig{
			Addr:     getEnv("LOOM_REDIS_ADDR", ""),
			Password: getEnv("LOOM_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Model.BaseURL == "" {
		return errors.New("LOOM_MODEL_BASE_URL is required")
	}
	if c.Model.Name == "" {
		return errors.New("LOOM_MODEL_NAME is required")
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("LOOM_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("LOOM_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Loop.RequestDelay < 0 {
		return fmt.Errorf("LOOM_LOOP_REQUEST_DELAY must be >= 0, got %s", c.Loop.RequestDelay)
	}
	if c.Loop.MaxRounds < 0 {
		return fmt.Errorf("LOOM_LOOP_MAX_ROUNDS must be >= 0, got %d", c.Loop.MaxRounds)
	}
	if c.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("LOOM_BUFFER_FLUSH_INTERVAL must be positive, got %s", c.Buffer.FlushInterval)
	}
	if c.Buffer.StaleMaxAge <= 0 {
		return fmt.Errorf("LOOM_BUFFER_STALE_MAX_AGE must be positive, got %s", c.Buffer.StaleMaxAge)
	}
	if c.Events.MaxBody < 1 {
		return fmt.Errorf("LOOM_EVENTS_MAX_BODY must be >= 1, got %d", c.Events.MaxBody)
	}
	if c.Tools.SQLiteTimeout <= 0 {
		return fmt.Errorf("LOOM_SQLITE_TIMEOUT must be positive, got %s", c.Tools.SQLiteTimeout)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
