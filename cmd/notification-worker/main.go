package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/poultry-market/internal/config"
	"github.com/jogardn/poultry-market/internal/events"
	"github.com/jogardn/poultry-market/internal/notify"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if err := cfg.ValidateConsumer(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.Postgres(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	policy := events.DefaultRetryPolicy()
	policy.IsRetryable = func(err error) bool {
		return !errors.Is(err, notify.ErrInvalidNotification)
	}
	consumer, err := events.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, notify.NewStoreSink(st), policy, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notification consumer")
	}
	defer consumer.Close()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := consumer.Metrics()
				logger.WithFields(logrus.Fields{
					"processed":     m.Processed,
					"succeeded":     m.Succeeded,
					"retried":       m.Retried,
					"failed":        m.Failed,
					"dead_lettered": m.DeadLettered,
				}).Info("Notification consumer metrics")
			}
		}
	}()

	logger.WithFields(logrus.Fields{
		"brokers": cfg.KafkaBrokers,
		"group":   cfg.ConsumerGroup,
	}).Info("Notification worker started")

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Error("Notification consumer stopped with error")
	}
	logger.Info("Notification worker stopped")
}
