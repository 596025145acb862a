package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/engagement-metrics/internal/bootstrap"
	"github.com/angelmondragon/engagement-metrics/internal/refresh"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/idempotency"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
	"github.com/angelmondragon/engagement-metrics/pkg/pubsub"
	"github.com/angelmondragon/engagement-metrics/pkg/redis"
)

const serviceName = "refresh-worker"

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

	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !cfg.Redis.Enabled() {
		logg.Error(ctx, "refresh worker requires redis", errors.New(config.EnvRedisURL+" is not set"))
		os.Exit(1)
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "failed to close pubsub client", err)
		}
	}()

	warehouse, err := bootstrap.OpenWarehouse(ctx, cfg, logg)
	requireResource(ctx, logg, "warehouse", err)
	defer func() {
		if err := warehouse.Close(); err != nil {
			logg.Error(context.Background(), "error closing warehouse", err)
		}
	}()

	provider, err := bootstrap.NewProvider(cfg, logg, warehouse.Source, redisClient, metrics.NewPipelineMetrics(prometheus.DefaultRegisterer))
	requireResource(ctx, logg, "dataset provider", err)

	guard, err := idempotency.NewGuard(redisClient, cfg.Cache.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency guard", err)

	service, err := refresh.NewService(refresh.Params{
		Subscription: pubsubClient.WarehouseRefreshSubscription(),
		Rotator:      provider,
		Guard:        guard,
		Warm:         cfg.Refresh.Warm,
		Logger:       logg,
	})
	requireResource(ctx, logg, "refresh service", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.WarehouseRefreshSubscription,
	})
	logg.Info(ctx, "starting refresh worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "refresh worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "refresh worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err != nil {
		logg.Error(ctx, "failed to initialize "+name, err)
		os.Exit(1)
	}
}
