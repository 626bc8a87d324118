package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the application
type Config struct {
	// Env is "development" or "production"
	Env string

	// HTTP Configuration
	HTTP HTTPConfig

	// Database Configuration
	Database DatabaseConfig

	// Auth Configuration
	Auth AuthConfig

	// Redis Configuration
	Redis RedisConfig

	// Blog Configuration
	Blog BlogConfig

	// Maintenance Configuration
	Maintenance MaintenanceConfig

	// Logging Configuration
	Logging LoggingConfig

	// Warnings collected while loading (e.g. generated development secrets)
	Warnings []string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMultiplier   float64
}

// AuthConfig holds the two independent signing secrets and cookie settings
type AuthConfig struct {
	TokenSecret     string
	TokenTTL        time.Duration
	SessionSecret   string
	SessionLifetime time.Duration
	CookieSecure    bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// BlogConfig holds the flat-file blog location
type BlogConfig struct {
	Dir string
}

// MaintenanceConfig holds background job schedules
type MaintenanceConfig struct {
	PruneSchedule        string
	SessionPurgeSchedule string
	AppointmentRetention time.Duration
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// IsDevelopment reports whether relaxed development defaults are allowed
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function. Outside development,
// missing secrets or database URL are an error; nothing falls back to a literal.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := strings.ToLower(strings.TrimSpace(getenv("APP_ENV")))
	if env == "" {
		env = EnvProduction
	}
	if env != EnvDevelopment && env != EnvProduction {
		return nil, fmt.Errorf("APP_ENV must be one of: %s, %s", EnvDevelopment, EnvProduction)
	}
	dev := env == EnvDevelopment

	cfg := &Config{
		Env: env,
		HTTP: HTTPConfig{
			Addr:           getenvDefault(getenv, "HTTP_ADDR", ":8080"),
			CORSOrigins:    splitList(getenvDefault(getenv, "CORS_ORIGINS", "http://localhost:3000")),
			RequestTimeout: getenvDurationDefault(getenv, "REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:               strings.TrimSpace(getenv("DATABASE_URL")),
			RetryMaxAttempts:  getenvIntDefault(getenv, "DB_RETRY_MAX_ATTEMPTS", 5),
			RetryInitialDelay: getenvDurationDefault(getenv, "DB_RETRY_INITIAL_DELAY", time.Second),
			RetryMultiplier:   getenvFloatDefault(getenv, "DB_RETRY_MULTIPLIER", 2),
		},
		Auth: AuthConfig{
			TokenSecret:     getenv("AUTH_TOKEN_SECRET"),
			TokenTTL:        getenvDurationDefault(getenv, "AUTH_TOKEN_TTL", 24*time.Hour),
			SessionSecret:   getenv("SESSION_SECRET"),
			SessionLifetime: getenvDurationDefault(getenv, "SESSION_LIFETIME", 30*24*time.Hour),
			CookieSecure:    getenvBoolDefault(getenv, "COOKIE_SECURE", !dev),
		},
		Redis: RedisConfig{
			Address: getenvDefault(getenv, "REDIS_ADDRESS", "localhost:6379"),
		},
		Blog: BlogConfig{
			Dir: getenvDefault(getenv, "BLOG_DIR", "content/blog"),
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule:        getenvDefault(getenv, "PRUNE_SCHEDULE", "@daily"),
			SessionPurgeSchedule: getenvDefault(getenv, "SESSION_PURGE_SCHEDULE", "@hourly"),
			AppointmentRetention: getenvDurationDefault(getenv, "APPOINTMENT_RETENTION", 30*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getenvDefault(getenv, "LOG_LEVEL", "info"),
			Format: getenvDefault(getenv, "LOG_FORMAT", "json"),
		},
	}

	if cfg.Database.URL == "" {
		if !dev {
			return nil, errors.New("DATABASE_URL is required")
		}
		cfg.Database.URL = "sitebook.sqlite"
	}

	var err error
	if cfg.Auth.TokenSecret, err = requireSecret(cfg, "AUTH_TOKEN_SECRET", cfg.Auth.TokenSecret); err != nil {
		return nil, err
	}
	if cfg.Auth.SessionSecret, err = requireSecret(cfg, "SESSION_SECRET", cfg.Auth.SessionSecret); err != nil {
		return nil, err
	}
	if cfg.Auth.TokenSecret == cfg.Auth.SessionSecret {
		return nil, errors.New("AUTH_TOKEN_SECRET and SESSION_SECRET must differ")
	}

	return cfg, nil
}

// requireSecret returns the configured secret, or in development a random
// per-process secret. Tokens signed with a generated secret die with the process.
func requireSecret(cfg *Config, name, value string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	if !cfg.IsDevelopment() {
		return "", fmt.Errorf("%s is required", name)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", name, err)
	}
	cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s not set - using a random development secret", name))
	return hex.EncodeToString(b), nil
}

func getenvDefault(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvFloatDefault(getenv func(string) string, key string, def float64) float64 {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 1 {
		return def
	}
	return f
}

func getenvDurationDefault(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBoolDefault(getenv func(string) string, key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
