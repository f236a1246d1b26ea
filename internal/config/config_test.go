package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, NotifyInline, cfg.NotifyMode)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 72*time.Hour, cfg.DeliveryEstimate)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.True(t, cfg.RateLimitEnabled())
	assert.False(t, cfg.DLQReplay)
	assert.Equal(t, 30*time.Second, cfg.DLQReplayDelay)
	assert.Equal(t, "notification-worker", cfg.ConsumerGroup)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("NOTIFY_MODE", "kafka")
	t.Setenv("DELIVERY_ESTIMATE", "48h")
	t.Setenv("RATE_LIMIT_RPS", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DLQ_REPLAY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 48*time.Hour, cfg.DeliveryEstimate)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.False(t, cfg.RateLimitEnabled())
	assert.True(t, cfg.DLQReplay)
}

func TestPostgresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=marketplace password=marketplace dbname=marketplace sslmode=disable", cfg.Postgres().DSN())

	t.Setenv("DATABASE_URL", "postgres://orders:pw@db:5432/orders?sslmode=disable")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://orders:pw@db:5432/orders?sslmode=disable", cfg.Postgres().DSN())
}

func TestLoadReportsEveryParseError(t *testing.T) {
	t.Setenv("DELIVERY_ESTIMATE", "three days")
	t.Setenv("RATE_LIMIT_BURST", "ten")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DELIVERY_ESTIMATE")
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("NOTIFY_MODE", "kafka")

	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateConsumer(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.ValidateConsumer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")

	cfg.KafkaBrokers = []string{"kafka:9092"}
	assert.NoError(t, cfg.ValidateConsumer(), "workers do not need JWT_SECRET")
}
