package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendRedis    StoreBackend = "redis"
	BackendPostgres StoreBackend = "postgres"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins []string
	JWTSecret      string

	StoreBackend StoreBackend
	DatabaseURL  string
	RedisURL     string

	MeiliSearchHost string
	MeiliMasterKey  string

	StoreTimeout           time.Duration
	ConflictRetries        int
	ResubscribeMaxInterval time.Duration
	// CommandCooldown spaces out friend requests and new discussions per
	// principal. It only applies when Redis is configured.
	CommandCooldown time.Duration

	LogLevel      string
	LogFilename   string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		JWTSecret:      os.Getenv("JWT_SECRET"),

		StoreBackend: StoreBackend(getEnv("STORE_BACKEND", string(BackendMemory))),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),

		MeiliSearchHost: os.Getenv("MEILISEARCH_HOST"),
		MeiliMasterKey:  os.Getenv("MEILI_MASTER_KEY"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFilename: os.Getenv("LOG_FILENAME"),
	}

	var err error
	if cfg.StoreTimeout, err = parseDuration("STORE_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.ResubscribeMaxInterval, err = parseDuration("RESUBSCRIBE_MAX_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.CommandCooldown, err = parseDuration("COMMAND_COOLDOWN", "3s"); err != nil {
		return nil, err
	}
	if cfg.ConflictRetries, err = parseInt("CONFLICT_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.LogMaxSize, err = parseInt("LOG_MAX_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = parseInt("LOG_MAX_BACKUPS", 3); err != nil {
		return nil, err
	}
	if cfg.LogMaxAge, err = parseInt("LOG_MAX_AGE", 28); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store backend")
		}
	case BackendPostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.CommandCooldown < 0 {
		return fmt.Errorf("COMMAND_COOLDOWN must not be negative")
	}
	if c.ConflictRetries < 1 {
		return fmt.Errorf("CONFLICT_RETRIES must be at least 1")
	}
	if c.JWTSecret == "" && c.AppEnv == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
