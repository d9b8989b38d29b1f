package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL  string
	StoreTimeout time.Duration

	// JWT
	JWTSecret string

	// Background Workers
	WorkerCount         int
	JobTimeout          time.Duration
	AuditVerifyInterval time.Duration

	// CORS
	AllowedOrigins []string

	// Locking
	RedisAddress string
	LockTimeout  time.Duration

	// Movement / reconciliation policy
	SelfCompleteTypes      []string
	ReconciliationPriority string

	// Notifications
	ResendAPIKey    string
	FromEmail       string
	NotifyEmails    []string
	PubSubProjectID string
	PubSubTopic     string

	// Sentry
	SentryDSN string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		Environment:            getEnv("ENVIRONMENT", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		StoreTimeout:           getEnvAsMillis("STORE_TIMEOUT_MS", 5000),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		WorkerCount:            getEnvAsInt("WORKER_COUNT", 5),
		JobTimeout:             time.Duration(getEnvAsInt("JOB_TIMEOUT_SECONDS", 300)) * time.Second,
		AuditVerifyInterval:    time.Duration(getEnvAsInt("AUDIT_VERIFY_INTERVAL_MINUTES", 60)) * time.Minute,
		AllowedOrigins:         getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		RedisAddress:           getEnv("REDIS_ADDRESS", ""),
		LockTimeout:            getEnvAsMillis("LOCK_TIMEOUT_MS", 3000),
		SelfCompleteTypes:      getEnvAsSlice("SELF_COMPLETE_TYPES", []string{models.MovementTypeCheckout, models.MovementTypeReturn}),
		ReconciliationPriority: getEnv("RECONCILIATION_PRIORITY", models.PriorityMedium),
		ResendAPIKey:           getEnv("RESEND_API_KEY", ""),
		FromEmail:              getEnv("FROM_EMAIL", "noreply@custodia.app"),
		NotifyEmails:           getEnvAsSlice("NOTIFY_EMAILS", nil),
		PubSubProjectID:        getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:            getEnv("PUBSUB_TOPIC", ""),
		SentryDSN:              getEnv("SENTRY_DSN", ""),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	for i, t := range cfg.SelfCompleteTypes {
		t = strings.ToLower(t)
		cfg.SelfCompleteTypes[i] = t
		if !models.IsValidMovementType(t) {
			return nil, fmt.Errorf("SELF_COMPLETE_TYPES: unknown movement type %q", t)
		}
	}

	if !models.IsValidPriority(cfg.ReconciliationPriority) {
		return nil, fmt.Errorf("RECONCILIATION_PRIORITY: unknown priority %q", cfg.ReconciliationPriority)
	}

	if cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("STORE_TIMEOUT_MS must be positive")
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
