package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payments-relay/internal/cron"
	"github.com/angelmondragon/payments-relay/internal/idempotency"
	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/db"
	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
	"github.com/angelmondragon/payments-relay/pkg/redis"
)

const serviceName = "payments-relay-cron"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	var lock cron.Lock = &cron.LocalLock{}
	if cfg.Redis.Configured() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("retention:"+cfg.App.Env), cfg.Retention.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		lock = redisLock
	}

	retentionMetrics := metrics.NewRetentionMetrics(prometheus.DefaultRegisterer)
	registry := cron.NewRegistry()

	// Redis claims expire on their own TTL.
	if cfg.Webhook.IdempotencyBackend == config.IdempotencyBackendDB {
		registerRetention(logg, registry, cron.RetentionJobParams{
			Name:      cron.ProcessedEventsJobName,
			Logger:    logg,
			Purger:    idempotency.NewGormGuard(dbClient.DB()),
			Retention: cfg.Webhook.IdempotencyTTL,
			Metrics:   retentionMetrics,
		})
	}
	registerRetention(logg, registry, cron.RetentionJobParams{
		Name:      cron.DeadLettersJobName,
		Logger:    logg,
		Purger:    delivery.NewGormDeadLetterStore(dbClient.DB()),
		Retention: time.Duration(cfg.Retention.DeadLetterDays) * 24 * time.Hour,
		Metrics:   retentionMetrics,
	})

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  retentionMetrics,
		Interval: cfg.Retention.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func registerRetention(logg *logger.Logger, registry *cron.Registry, params cron.RetentionJobParams) {
	job, err := cron.NewRetentionJob(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}
	registry.Register(job)
}
