// Package config loads the gateway configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Mongo         MongoConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Providers     ProvidersConfig
	Resilience    ResilienceConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// MongoConfig holds the usage ledger store configuration
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// RedisConfig holds the cache and rate limiter backend configuration.
// An empty Addr disables Redis; the gateway then uses the in-memory cache
// and skips rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds response cache tunables
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// ProvidersConfig holds per-provider settings and the failover order
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	XAI       ProviderConfig

	// Priority is the failover order for requests without a provider hint
	Priority []string
}

// ProviderConfig holds one upstream provider's settings. A provider with
// an empty APIKey is not registered.
type ProviderConfig struct {
	APIKey  string
	BaseURL string

	// Timeout is the provider's time budget: retries of a call share it,
	// and stream establishment must complete within it.
	Timeout              time.Duration
	MaxRequestsPerMinute int
}

// ResilienceConfig holds retry and circuit breaker tunables
type ResilienceConfig struct {
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	RequestBudget      time.Duration
	BreakerThreshold   int
	BreakerWindow      time.Duration
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "apiforward"),
			Timeout:  getEnvAsDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL:        getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 4096),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:               getEnv("OPENAI_API_KEY", ""),
				BaseURL:              getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout:              getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
				MaxRequestsPerMinute: getEnvAsInt("OPENAI_MAX_REQUESTS_PER_MINUTE", 0),
			},
			Anthropic: ProviderConfig{
				APIKey:               getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:              getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
				Timeout:              getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
				MaxRequestsPerMinute: getEnvAsInt("ANTHROPIC_MAX_REQUESTS_PER_MINUTE", 0),
			},
			XAI: ProviderConfig{
				APIKey:               getEnv("XAI_API_KEY", ""),
				BaseURL:              getEnv("XAI_BASE_URL", "https://api.x.ai/v1"),
				Timeout:              getEnvAsDuration("XAI_TIMEOUT", 60*time.Second),
				MaxRequestsPerMinute: getEnvAsInt("XAI_MAX_REQUESTS_PER_MINUTE", 0),
			},
			Priority: getEnvAsList("PROVIDER_PRIORITY", []string{"openai", "anthropic", "xai"}),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:        getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseBackoff:        getEnvAsDuration("RETRY_BASE_BACKOFF", 250*time.Millisecond),
			MaxBackoff:         getEnvAsDuration("RETRY_MAX_BACKOFF", 4*time.Second),
			RequestBudget:      getEnvAsDuration("REQUEST_BUDGET", 90*time.Second),
			BreakerThreshold:   getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerWindow:      getEnvAsDuration("BREAKER_WINDOW", 30*time.Second),
			BreakerCooldown:    getEnvAsDuration("BREAKER_COOLDOWN", 10*time.Second),
			BreakerMaxCooldown: getEnvAsDuration("BREAKER_MAX_COOLDOWN", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo URI is required: set MONGO_URI")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo database name is required")
	}

	if c.IsProduction() {
		if c.Providers.OpenAI.APIKey == "" &&
			c.Providers.Anthropic.APIKey == "" &&
			c.Providers.XAI.APIKey == "" {
			return fmt.Errorf("at least one provider must be configured in production")
		}
	}

	known := map[string]bool{"openai": true, "anthropic": true, "xai": true}
	for _, name := range c.Providers.Priority {
		if !known[name] {
			return fmt.Errorf("unknown provider %q in PROVIDER_PRIORITY", name)
		}
	}
	if len(c.Providers.Priority) == 0 {
		return fmt.Errorf("provider priority must not be empty")
	}

	if c.Resilience.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.Resilience.BreakerThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
