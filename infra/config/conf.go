package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds process-wide state resolved once at startup.
type Config struct {
	APIKey string
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port             string
	BaseURL          string
	DBPath           string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	OpenSearchURL    string
	OpenSearchUser   string
	OpenSearchPass   string
	EnableLogging    bool
	LoggingLevel     string
	LogRetentionDays int
	CheckoutTTL      time.Duration
	DedupTTL         time.Duration
	OperationTTL     time.Duration
	SweepInterval    time.Duration
}

var (
	instance          *Config
	appConfigInstance *AppConfig
)

func App() *Config {
	if instance == nil {
		instance = &Config{
			// generated fresh when no API_KEY is set, so every restart
			// without one invalidates previously issued keys
			APIKey: GetEnv("API_KEY", uuid.New().String()),
		}
	}
	return instance
}

// GetAppConfig returns the application configuration
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		appConfigInstance = &AppConfig{
			Port:             GetEnv("APP_PORT", "9999"),
			BaseURL:          GetEnv("APP_BASE_URL", "http://localhost:9999"),
			DBPath:           GetEnv("DB_PATH", "./data/paymux.db"),
			RedisAddr:        GetEnv("REDIS_ADDR", ""),
			RedisPassword:    GetEnv("REDIS_PASSWORD", ""),
			RedisDB:          GetIntEnv("REDIS_DB", 0),
			OpenSearchURL:    GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
			OpenSearchUser:   GetEnv("OPENSEARCH_USER", ""),
			OpenSearchPass:   GetEnv("OPENSEARCH_PASSWORD", ""),
			EnableLogging:    GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
			LoggingLevel:     GetEnv("LOGGING_LEVEL", "info"),
			LogRetentionDays: GetIntEnv("LOG_RETENTION_DAYS", 30),
			CheckoutTTL:      time.Duration(GetIntEnv("CHECKOUT_TTL_HOURS", 24)) * time.Hour,
			DedupTTL:         time.Duration(GetIntEnv("WEBHOOK_DEDUP_TTL_HOURS", 72)) * time.Hour,
			OperationTTL:     time.Duration(GetIntEnv("OPERATION_CLAIM_TTL_HOURS", 24)) * time.Hour,
			SweepInterval:    time.Duration(GetIntEnv("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		}
	}
	return appConfigInstance
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
