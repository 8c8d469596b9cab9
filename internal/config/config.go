package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Storage
	StorageType string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort    string
	APIHost    string
	AuthSecret string

	// Pagination
	DefaultLimit int
	MaxLimit     int

	// Upstream branch checks
	GitHubToken      string
	GitHubAPIURL     string
	RedisAddr        string
	RedisPassword    string
	UpstreamCacheTTL time.Duration

	// CLI
	APIEndpoint string
	APIToken    string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	defaultLimit, err := getEnvInt("DEFAULT_LIMIT", 25)
	if err != nil {
		return nil, err
	}
	maxLimit, err := getEnvInt("MAX_LIMIT", 100)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := time.ParseDuration(getEnv("UPSTREAM_CACHE_TTL", "5m"))
	if err != nil {
		return nil, &ConfigError{Field: "UPSTREAM_CACHE_TTL", Message: fmt.Sprintf("invalid duration: %v", err)}
	}

	return &Config{
		StorageType:      getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:       getEnv("SQLITE_PATH", "./ci.db"),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		APIPort:          getEnv("API_PORT", "8080"),
		APIHost:          getEnv("API_HOST", "localhost"),
		AuthSecret:       getEnv("AUTH_SECRET", ""),
		DefaultLimit:     defaultLimit,
		MaxLimit:         maxLimit,
		GitHubToken:      getEnv("GITHUB_TOKEN", ""),
		GitHubAPIURL:     getEnv("GITHUB_API_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		UpstreamCacheTTL: cacheTTL,
		APIEndpoint:      getEnv("API_ENDPOINT", "http://localhost:8080"),
		APIToken:         getEnv("API_TOKEN", ""),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return v, nil
}

// ValidateStorage validates the storage settings
func (c *Config) ValidateStorage() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// Validate validates the configuration needed to run the API server
func (c *Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.AuthSecret == "" {
		return &ConfigError{Field: "AUTH_SECRET", Message: "auth secret is required"}
	}
	if c.DefaultLimit < 1 {
		return &ConfigError{Field: "DEFAULT_LIMIT", Message: "must be positive"}
	}
	if c.MaxLimit < c.DefaultLimit {
		return &ConfigError{Field: "MAX_LIMIT", Message: "must not be below DEFAULT_LIMIT"}
	}
	if c.UpstreamCacheTTL < 0 {
		return &ConfigError{Field: "UPSTREAM_CACHE_TTL", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
