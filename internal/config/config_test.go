package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.VerifyDeadline)
	assert.Equal(t, "payment_events", cfg.KafkaPaymentEventsTopic)
	assert.Equal(t, "order_notifications", cfg.KafkaNotificationsTopic)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("RECON_DB_HOST", "db")
	t.Setenv("RECON_DB_PORT", "6543")
	t.Setenv("KAFKA_BROKER_URL", "k1:9092,k2:9092")
	t.Setenv("VERIFY_DEADLINE", "12s")
	t.Setenv("SESSION_RATE_RPS", "0.5")
	t.Setenv("RETRY_BASE_DELAY", "not-a-duration")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, 12*time.Second, cfg.VerifyDeadline)
	assert.InDelta(t, 0.5, cfg.SessionRateRPS, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay, "unparsable values fall back to the default")
	assert.Equal(t, "postgres://user:password@db:6543/storefront?sslmode=disable", cfg.GetDBMigrationConnectionString())
}

func TestLoadConfig_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}
