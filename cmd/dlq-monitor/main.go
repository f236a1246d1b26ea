package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jogardn/poultry-market/internal/config"
	"github.com/jogardn/poultry-market/internal/events"
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

	monitor, err := events.NewDLQMonitor(cfg.KafkaBrokers, cfg.ConsumerGroup+"-dlq-monitor", events.DLQOptions{
		Replay:      cfg.DLQReplay,
		ReplayDelay: cfg.DLQReplayDelay,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ monitor")
	}
	defer monitor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Error("DLQ monitor stopped with error")
	}
	logger.Info("Shutting down DLQ monitor...")
}
