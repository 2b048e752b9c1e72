package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	AppEnv       string
	LogLevel     string
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	JWTSecret    string

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration

	WebhookSecret            string
	WebhookInsecureSkipVerif bool

	PollInterval       time.Duration
	ForcedRefreshDelay time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment", "error", err)
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		AppEnv:       getEnv("APP_ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PostgresDSN:  getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=simshop sslmode=disable"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		JWTSecret:    getEnv("JWT_SECRET", "supersecret"),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://5sim.net/v1"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", "10s"),

		WebhookSecret:            os.Getenv("WEBHOOK_SECRET"),
		WebhookInsecureSkipVerif: getEnvAsBool("WEBHOOK_INSECURE_SKIP_VERIFY", false),

		PollInterval:       getEnvAsDuration("POLL_INTERVAL", "3s"),
		ForcedRefreshDelay: getEnvAsDuration("FORCED_REFRESH_DELAY", "200ms"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("config loaded",
		"port", cfg.Port,
		"app_env", cfg.AppEnv,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"provider_base_url", cfg.ProviderBaseURL)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("provider base URL cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Production() && c.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required in production")
	}
	// The unsigned-webhook path must never be reachable in a deployed configuration.
	if c.Production() && c.WebhookInsecureSkipVerif {
		return fmt.Errorf("webhook verification cannot be disabled in production")
	}
	return nil
}

func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
