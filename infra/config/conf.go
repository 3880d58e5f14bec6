package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type CKey string

type Config struct {
	Validator *validator.Validate
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port        string
	Environment string

	OpenSearchURL    string
	OpenSearchUser   string
	OpenSearchPass   string
	EnableLogging    bool
	LoggingLevel     string
	LogRetentionDays int

	// StorageDriver selects the persistence backend: "postgres" or "memory".
	StorageDriver string
	RedisURL      string
	JWTSecret     string

	GatewayBaseURL     string
	GatewayAccessToken string
	GatewayTimeout     time.Duration
	GatewayMaxRetries  int
	WebhookSecret      string
	NotificationURL    string
	BackURL            string

	Currency         string
	PaymentMinAmount decimal.Decimal
	PaymentMaxAmount decimal.Decimal
	RefundWindow     time.Duration
	IdempotencyTTL   time.Duration

	CacheTTL  time.Duration
	CacheSize int

	QueueWorkers      int
	QueueMaxRetries   int
	ClaimPollInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

var (
	instance          *Config
	appConfigInstance *AppConfig
)

func App() *Config {
	if instance == nil {
		instance = &Config{
			Validator: validator.New(),
		}
	}
	return instance
}

// GetAppConfig returns the application configuration
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		appConfigInstance = &AppConfig{
			Port:             GetEnv("APP_PORT", "9999"),
			Environment:      GetEnv("ENVIRONMENT", "development"),
			OpenSearchURL:    GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
			OpenSearchUser:   GetEnv("OPENSEARCH_USER", ""),
			OpenSearchPass:   GetEnv("OPENSEARCH_PASSWORD", ""),
			EnableLogging:    GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
			LoggingLevel:     GetEnv("LOGGING_LEVEL", "info"),
			LogRetentionDays: GetIntEnv("LOG_RETENTION_DAYS", 30),

			StorageDriver: GetEnv("STORAGE_DRIVER", "postgres"),
			RedisURL:      GetEnv("REDIS_URL", ""),
			JWTSecret:     GetEnv("JWT_SECRET", ""),

			GatewayBaseURL:     GetEnv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			GatewayAccessToken: GetEnv("GATEWAY_ACCESS_TOKEN", ""),
			GatewayTimeout:     GetDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
			GatewayMaxRetries:  GetIntEnv("GATEWAY_MAX_RETRIES", 3),
			WebhookSecret:      GetEnv("WEBHOOK_SECRET", ""),
			NotificationURL:    GetEnv("NOTIFICATION_URL", ""),
			BackURL:            GetEnv("BACK_URL", ""),

			Currency:         GetEnv("CURRENCY", "BRL"),
			PaymentMinAmount: GetDecimalEnv("PAYMENT_MIN_AMOUNT", decimal.NewFromInt(1)),
			PaymentMaxAmount: GetDecimalEnv("PAYMENT_MAX_AMOUNT", decimal.NewFromInt(50000)),
			RefundWindow:     GetDurationEnv("REFUND_WINDOW", 7*24*time.Hour),
			IdempotencyTTL:   GetDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),

			CacheTTL:  GetDurationEnv("CACHE_TTL", 5*time.Minute),
			CacheSize: GetIntEnv("CACHE_SIZE", 1000),

			QueueWorkers:      GetIntEnv("QUEUE_WORKERS", 4),
			QueueMaxRetries:   GetIntEnv("QUEUE_MAX_RETRIES", 5),
			ClaimPollInterval: GetDurationEnv("CLAIM_POLL_INTERVAL", 15*time.Minute),

			KafkaBrokers: GetListEnv("KAFKA_BROKERS"),
			KafkaTopic:   GetEnv("KAFKA_TOPIC", "subscription_events"),
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

// GetDurationEnv parses values like "15s" or "24h".
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func GetDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetListEnv splits a comma separated variable, dropping empty items.
func GetListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
