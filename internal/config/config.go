package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBConfig struct {
		Host     string `env:"RECON_DB_HOST"`
		Port     int    `env:"RECON_DB_PORT"`
		User     string `env:"RECON_DB_USER"`
		Password string `env:"RECON_DB_PASSWORD"`
		Name     string `env:"RECON_DB_NAME"`
		SSLMode  string `env:"RECON_DB_SSLMODE"`
	}
	MigrationsPath string `env:"MIGRATIONS_PATH"`

	KafkaBrokerURL          string `env:"KAFKA_BROKER_URL"`
	KafkaPaymentEventsTopic string `env:"KAFKA_PAYMENT_EVENTS_TOPIC"`
	KafkaNotificationsTopic string `env:"KAFKA_NOTIFICATIONS_TOPIC"`
	KafkaConsumerGroup      string `env:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`

	InboxRedeliveryInterval time.Duration `env:"INBOX_REDELIVERY_INTERVAL"`
	InboxMaxAttempts        int           `env:"INBOX_MAX_ATTEMPTS"`

	FunctionsBaseURL string        `env:"FUNCTIONS_BASE_URL"`
	FunctionsAPIKey  string        `env:"FUNCTIONS_API_KEY"`
	FunctionsTimeout time.Duration `env:"FUNCTIONS_TIMEOUT"`
	VerifyDeadline   time.Duration `env:"VERIFY_DEADLINE"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY"`

	SessionTable    string        `env:"SESSION_TABLE"`
	AWSRegion       string        `env:"AWS_REGION"`
	DynamoEndpoint  string        `env:"DYNAMODB_ENDPOINT"`
	AWSAccessKey    string        `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey    string        `env:"AWS_SECRET_ACCESS_KEY"`
	SessionTTL      time.Duration `env:"SESSION_TTL"`
	SQLitePath      string        `env:"SQLITE_PATH"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL"`

	HTTPPort         int     `env:"HTTP_PORT"`
	SessionRateRPS   float64 `env:"SESSION_RATE_RPS"`
	SessionRateBurst int     `env:"SESSION_RATE_BURST"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("RECON_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("RECON_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("RECON_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("RECON_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("RECON_DB_NAME", "storefront")
	cfg.DBConfig.SSLMode = getEnvOrDefault("RECON_DB_SSLMODE", "disable")
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file:///app/migrations")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaPaymentEventsTopic = getEnvOrDefault("KAFKA_PAYMENT_EVENTS_TOPIC", "payment_events")
	cfg.KafkaNotificationsTopic = getEnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", "order_notifications")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "reconciler-payment-events-group")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	cfg.InboxRedeliveryInterval = getEnvAsDuration("INBOX_REDELIVERY_INTERVAL", 30*time.Second)
	cfg.InboxMaxAttempts = getEnvAsInt("INBOX_MAX_ATTEMPTS", 10)

	cfg.FunctionsBaseURL = getEnvOrDefault("FUNCTIONS_BASE_URL", "http://localhost:54321/functions/v1")
	cfg.FunctionsAPIKey = getEnvOrDefault("FUNCTIONS_API_KEY", "")
	cfg.FunctionsTimeout = getEnvAsDuration("FUNCTIONS_TIMEOUT", 10*time.Second)
	cfg.VerifyDeadline = getEnvAsDuration("VERIFY_DEADLINE", 30*time.Second)

	cfg.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond)
	cfg.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second)

	cfg.SessionTable = getEnvOrDefault("SESSION_TABLE", "checkout_sessions")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "us-east-1")
	cfg.DynamoEndpoint = getEnvOrDefault("DYNAMODB_ENDPOINT", "")
	cfg.AWSAccessKey = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.SessionTTL = getEnvAsDuration("SESSION_TTL", 24*time.Hour)
	cfg.SQLitePath = getEnvOrDefault("SQLITE_PATH", "data/sessions.db")
	cfg.JanitorInterval = getEnvAsDuration("JANITOR_INTERVAL", 10*time.Minute)

	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8083)
	cfg.SessionRateRPS = getEnvAsFloat("SESSION_RATE_RPS", 2)
	cfg.SessionRateBurst = getEnvAsInt("SESSION_RATE_BURST", 10)

	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.VerifyDeadline <= 0 {
		return nil, fmt.Errorf("VERIFY_DEADLINE must be positive, got %s", cfg.VerifyDeadline)
	}

	return cfg, nil
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnvOrDefault(key, strconv.FormatFloat(defaultValue, 'f', -1, 64))
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
