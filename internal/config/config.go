// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jogardn/poultry-market/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	StorePostgres = store.DriverPostgres
	StoreMemory   = store.DriverMemory

	NotifyInline = "inline"
	NotifyKafka  = "kafka"
)

type Config struct {
	Port     string
	LogLevel logrus.Level

	StoreDriver string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	SeedFile    string

	JWTSecret string

	KafkaBrokers   []string
	NotifyMode     string
	ConsumerGroup  string
	DLQReplay      bool
	DLQReplayDelay time.Duration

	RedisAddr      string
	IdempotencyTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	DeliveryEstimate time.Duration
}

// Load reads every variable, collecting parse errors instead of stopping at
// the first one.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:          getEnv("ORDER_SERVICE_PORT", "8081"),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "marketplace"),
		DBPassword:    getEnv("DB_PASSWORD", "marketplace"),
		DBName:        getEnv("DB_NAME", "marketplace"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		SeedFile:      os.Getenv("SEED_FILE"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		NotifyMode:    strings.ToLower(getEnv("NOTIFY_MODE", NotifyInline)),
		ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "notification-worker"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	cfg.IdempotencyTTL = getDuration("IDEMPOTENCY_TTL", 24*time.Hour, &errs)
	cfg.DLQReplayDelay = getDuration("DLQ_REPLAY_DELAY", 30*time.Second, &errs)
	cfg.DeliveryEstimate = getDuration("DELIVERY_ESTIMATE", 72*time.Hour, &errs)

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: %w", err))
	}
	cfg.RateLimitRPS = rps

	replay, err := strconv.ParseBool(getEnv("DLQ_REPLAY", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DLQ_REPLAY: %w", err))
	}
	cfg.DLQReplay = replay

	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "10"))
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: %w", err))
	}
	cfg.RateLimitBurst = burst

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver))
	}
	if c.NotifyMode != NotifyInline && c.NotifyMode != NotifyKafka {
		errs = append(errs, fmt.Errorf("NOTIFY_MODE must be %q or %q, got %q", NotifyInline, NotifyKafka, c.NotifyMode))
	}
	if c.NotifyMode == NotifyKafka && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("NOTIFY_MODE=kafka requires KAFKA_BROKERS"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.DeliveryEstimate <= 0 {
		errs = append(errs, errors.New("DELIVERY_ESTIMATE must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateConsumer checks what the Kafka worker processes need. They do not
// serve HTTP, so JWT_SECRET is not required.
func (c *Config) ValidateConsumer() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver))
	}
	return errors.Join(errs...)
}

func (c *Config) Postgres() store.PostgresConfig {
	return store.PostgresConfig{
		URL:          c.DatabaseURL,
		Host:         c.DBHost,
		Port:         c.DBPort,
		User:         c.DBUser,
		Password:     c.DBPassword,
		Name:         c.DBName,
		SSLMode:      c.DBSSLMode,
		MaxOpenConns: 20,
		ConnAttempts: 30,
	}
}

// RateLimitEnabled is false when RATE_LIMIT_RPS is 0.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimitRPS > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
