// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Auth
	JWTSecret string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// NATS
	NATSURL      string
	NATSToken    string
	NATSCertFile string
	NATSKeyFile  string
	NATSCAFile   string

	// Providers. An empty key disables that provider's adapter.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	QwenAPIKey      string
	QwenBaseURL     string
	GeminiAPIKey    string
	GeminiBaseURL   string
	OllamaBaseURL   string

	// Dispatch
	UtilityModel      string
	AvailabilityTTL   time.Duration
	AvailabilitySync  string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

// Load reads configuration from the environment, with a .env file as a
// development convenience.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		JWTSecret: os.Getenv("JWT_SECRET"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "multichat"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "multichat"),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSToken:    os.Getenv("NATS_TOKEN"),
		NATSCertFile: os.Getenv("NATS_CERT_FILE"),
		NATSKeyFile:  os.Getenv("NATS_KEY_FILE"),
		NATSCAFile:   os.Getenv("NATS_CA_FILE"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		QwenAPIKey:      os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:     getEnv("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:   getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", ""),

		UtilityModel:      getEnv("UTILITY_MODEL", "claude-haiku"),
		AvailabilityTTL:   getDurationEnv("AVAILABILITY_TTL", 5*time.Minute),
		AvailabilitySync:  getEnv("AVAILABILITY_SYNC_SCHEDULE", "@every 1m"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		AllowedOrigins:    []string{getEnv("ALLOWED_ORIGIN", "*")},

		TracingEnabled: getBoolEnv("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
