package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/engagement-metrics/internal/bootstrap"
	"github.com/angelmondragon/engagement-metrics/internal/cron"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
	"github.com/angelmondragon/engagement-metrics/pkg/redis"
)

const (
	serviceName = "snapshot-worker"
	localEnv    = "local"
)

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

	if !cfg.Redis.Enabled() {
		logg.Error(context.Background(), "snapshot worker requires redis", errors.New(config.EnvRedisURL+" is not set"))
		os.Exit(1)
	}
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

	warehouse, err := bootstrap.OpenWarehouse(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap warehouse", err)
		os.Exit(1)
	}
	defer func() {
		if err := warehouse.Close(); err != nil {
			logg.Error(context.Background(), "error closing warehouse", err)
		}
	}()

	provider, err := bootstrap.NewProvider(cfg, logg, warehouse.Source, redisClient, metrics.NewPipelineMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(context.Background(), "failed to create dataset provider", err)
		os.Exit(1)
	}

	jobs, err := cron.SnapshotJobs(provider, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create snapshot jobs", err)
		os.Exit(1)
	}

	env := cfg.App.Env
	if env == "" {
		env = localEnv
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceName, env), cfg.Refresh.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Refresh.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Refresh.Interval.String(),
	})
	logg.Info(ctx, "starting snapshot worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "snapshot worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "snapshot worker shutting down gracefully")
}
