package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jogardn/poultry-market/internal/auth"
	"github.com/jogardn/poultry-market/internal/circuitbreaker"
	"github.com/jogardn/poultry-market/internal/config"
	"github.com/jogardn/poultry-market/internal/events"
	"github.com/jogardn/poultry-market/internal/idempotency"
	"github.com/jogardn/poultry-market/internal/middleware"
	"github.com/jogardn/poultry-market/internal/notify"
	"github.com/jogardn/poultry-market/internal/orders"
	"github.com/jogardn/poultry-market/internal/store"
	"github.com/jogardn/poultry-market/internal/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if err := cfg.Validate(); err != nil {
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

	if cfg.SeedFile != "" {
		n, err := store.SeedProducts(ctx, st, cfg.SeedFile)
		if err != nil {
			logger.WithError(err).WithField("file", cfg.SeedFile).Fatal("Failed to seed products")
		}
		logger.WithField("products", n).Info("Products seeded")
	}

	hub := websocket.NewHub(logger)
	breakers := circuitbreaker.NewManager(logger)

	sinks := []notify.Sink{notify.NewHubSink(hub)}
	if cfg.NotifyMode == config.NotifyInline {
		sinks = append(sinks, notify.NewStoreSink(st))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		breaker := breakers.GetOrCreate("kafka", circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		})
		sinks = append(sinks, notify.NewEventSink(producer, breaker))
	}
	dispatcher := notify.NewDispatcher(logger, 10*time.Second, sinks...)

	var guard idempotency.Guard = idempotency.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis not reachable; idempotency keys will be skipped until it is")
		}
		guard = idempotency.NewRedisGuard(rdb, cfg.IdempotencyTTL)
	}

	service := orders.NewService(st, dispatcher, logger, orders.Options{
		DeliveryEstimate: cfg.DeliveryEstimate,
	})
	handler := orders.NewHandler(service, guard, logger)
	handler.SetStreamHandler(hub)
	handler.SetHealthFunc(func(ctx context.Context) (map[string]interface{}, error) {
		details := map[string]interface{}{
			"store":             cfg.StoreDriver,
			"notify_mode":       cfg.NotifyMode,
			"websocket_clients": hub.ClientCount(),
			"circuit_breakers":  breakers.Stats(),
			"events_degraded":   breakers.AnyOpen(),
		}
		if err := st.Ping(ctx); err != nil {
			return details, errors.New("database connection failed")
		}
		return details, nil
	})

	protected := []mux.MiddlewareFunc{auth.NewVerifier(cfg.JWTSecret).Middleware(handler.RespondUnauthenticated)}
	if cfg.RateLimitEnabled() {
		protected = append(protected, middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware())
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging(logger))
	handler.Register(router, protected...)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.CORS()(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"store":       cfg.StoreDriver,
			"notify_mode": cfg.NotifyMode,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}
		dispatcher.Close()
		dispatcher.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Order service stopped with error")
		os.Exit(1)
	}
	logger.Info("Server gracefully stopped")
}
