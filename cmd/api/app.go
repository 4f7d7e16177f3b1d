package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/payments-relay/api"
	"github.com/angelmondragon/payments-relay/api/controllers"
	"github.com/angelmondragon/payments-relay/api/routes"
	"github.com/angelmondragon/payments-relay/internal/catalog"
	"github.com/angelmondragon/payments-relay/internal/idempotency"
	"github.com/angelmondragon/payments-relay/internal/reconcile"
	"github.com/angelmondragon/payments-relay/internal/signature"
	"github.com/angelmondragon/payments-relay/internal/webhooks"
	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/db"
	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/measurement"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
	"github.com/angelmondragon/payments-relay/pkg/pubsub"
	"github.com/angelmondragon/payments-relay/pkg/redis"
)

const (
	idempotencyScope = "webhooks"
	rateLimitScope   = "delivery"
)

// app owns every long-lived dependency of the api process.
type app struct {
	cfg    *config.Config
	logg   *logger.Logger
	db     *db.Client
	redis  *redis.Client
	pubsub *pubsub.Client
	queue  *delivery.Queue
	server *api.Server
}

func newApp(ctx context.Context, cfg *config.Config, logg *logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logg: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close())
		}
	}()

	if a.db, err = db.New(ctx, cfg.DB, logg); err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if cfg.FeatureFlags.AutoMigrate {
		if err = a.db.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		logg.Info(ctx, "schema auto-migrated")
	}
	if cfg.Redis.Configured() {
		if a.redis, err = redis.New(ctx, cfg.Redis, logg); err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
	}
	if cfg.PubSub.Enabled() {
		if a.pubsub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg); err != nil {
			return nil, fmt.Errorf("bootstrap pubsub: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.queue, err = a.buildQueue(ctx, registry); err != nil {
		return nil, err
	}
	pipeline, err := a.buildPipeline(registry)
	if err != nil {
		return nil, err
	}

	readiness := map[string]controllers.Pinger{"db": a.db}
	if a.redis != nil {
		readiness["redis"] = a.redis
	}
	if a.pubsub != nil {
		readiness["pubsub"] = a.pubsub
	}
	handler := routes.NewRouter(cfg, logg, pipeline, a.queue, readiness, registry)
	a.server = api.NewServer(":"+cfg.App.Port, handler, logg)
	return a, nil
}

func (a *app) buildQueue(ctx context.Context, reg prometheus.Registerer) (*delivery.Queue, error) {
	cfg := a.cfg.Delivery

	var limiter delivery.Limiter
	if cfg.MaxEventsPerSecond > 0 || cfg.MaxEventsPerMinute > 0 {
		if cfg.RateLimitBackend == config.RateLimitBackendRedis {
			redisLimiter, err := delivery.NewRedisLimiter(a.redis, rateLimitScope, cfg.MaxEventsPerSecond, cfg.MaxEventsPerMinute)
			if err != nil {
				return nil, fmt.Errorf("redis rate limiter: %w", err)
			}
			limiter = redisLimiter
		} else {
			limiter = delivery.NewLocalLimiter(cfg.MaxEventsPerSecond, cfg.MaxEventsPerMinute)
		}
	}

	sinks := delivery.DeadLetterSinks{delivery.NewGormDeadLetterStore(a.db.DB())}
	if a.pubsub != nil {
		sinks = append(sinks, delivery.NewPubSubDeadLetterSink(a.pubsub.DeadLetterPublisher()))
	}

	params := delivery.Params{
		Config: delivery.Config{
			Capacity:     cfg.QueueCapacity,
			BaseDelay:    cfg.BaseDelay(),
			Multiplier:   cfg.BackoffMultiplier,
			MaxAttempts:  cfg.MaxAttempts,
			ScanInterval: cfg.ScanInterval(),
			SendTimeout:  a.cfg.Sink.Timeout(),
		},
		Limiter:     limiter,
		DeadLetters: sinks,
		Logger:      a.logg,
		Metrics:     metrics.NewDeliveryMetrics(reg),
	}
	if cfg.Durable {
		params.Journal = delivery.NewGormJournal(a.db.DB())
	}

	if a.cfg.Sink.Enabled() {
		client, err := measurement.NewClient(a.cfg.Sink)
		if err != nil {
			return nil, fmt.Errorf("measurement client: %w", err)
		}
		params.Sender = client
	} else {
		a.logg.Warn(ctx, "measurement sink not configured; outbound events are logged only")
		params.Sender = delivery.SenderFunc(func(ctx context.Context, event delivery.Event) error {
			a.logg.Info(a.logg.WithFields(ctx, map[string]any{
				"outbound_event_id": event.ID,
				"name":              event.Name,
				"client_id":         event.ClientID,
			}), "outbound event discarded")
			return nil
		})
	}

	queue, err := delivery.NewQueue(params)
	if err != nil {
		return nil, fmt.Errorf("delivery queue: %w", err)
	}
	restored, err := queue.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore delivery journal: %w", err)
	}
	if restored > 0 {
		a.logg.Info(a.logg.WithField(ctx, "restored", restored), "pending outbound events restored")
	}
	return queue, nil
}

func (a *app) buildPipeline(reg prometheus.Registerer) (*webhooks.Pipeline, error) {
	verifier, err := signature.NewVerifier(a.cfg.Webhook.SharedSecret,
		signature.WithTolerance(a.cfg.Webhook.SignatureTolerance()))
	if err != nil {
		return nil, fmt.Errorf("signature verifier: %w", err)
	}

	lease := idempotency.WithClaimLease(a.cfg.Webhook.ClaimLease)
	var guard idempotency.Guard = idempotency.NewGormGuard(a.db.DB(), lease)
	if a.cfg.Webhook.IdempotencyBackend == config.IdempotencyBackendRedis {
		redisGuard, err := idempotency.NewRedisGuard(a.redis, a.cfg.Webhook.IdempotencyTTL, idempotencyScope, lease)
		if err != nil {
			return nil, fmt.Errorf("redis idempotency guard: %w", err)
		}
		guard = redisGuard
	}

	var lookup catalog.LineItemLookup
	if a.cfg.Catalog.BaseURL != "" {
		client, err := catalog.NewClient(a.cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("catalog client: %w", err)
		}
		lookup = client
	}

	reconciler, err := reconcile.NewReconciler(reconcile.NewGormStore(a.db.DB()), lookup, a.queue, a.logg)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}
	return webhooks.NewPipeline(webhooks.PipelineParams{
		Verifier: verifier,
		Router:   webhooks.NewRouter(webhooks.ReconcileRoutes(reconciler)),
		Guard:    guard,
		Metrics:  metrics.NewWebhookMetrics(reg),
		Logger:   a.logg,
	})
}

func (a *app) close() error {
	var err error
	if a.pubsub != nil {
		err = multierr.Append(err, a.pubsub.Close())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}
