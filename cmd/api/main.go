package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/engagement-metrics/api/controllers"
	"github.com/angelmondragon/engagement-metrics/api/middleware"
	"github.com/angelmondragon/engagement-metrics/api/routes"
	"github.com/angelmondragon/engagement-metrics/internal/bootstrap"
	"github.com/angelmondragon/engagement-metrics/internal/engagement"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/instance"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	redisClient, err := bootstrap.OpenRedis(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	pingers := map[string]controllers.Pinger{}
	for name, p := range warehouse.Pingers {
		pingers[name] = p
	}
	var rateStore middleware.RateLimiterStore
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		pingers["redis"] = redisClient
		rateStore = redisClient
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)
	provider, err := bootstrap.NewProvider(cfg, logg, warehouse.Source, redisClient, pipelineMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create dataset provider", err)
		os.Exit(1)
	}

	service, err := engagement.NewService(engagement.ServiceParams{
		Loader:      provider,
		Invalidator: provider,
		Warehouse:   cfg.Warehouse,
		Logger:      logg,
		Metrics:     pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create engagement service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"instance":  instance.GetID(),
		"warehouse": cfg.Warehouse.Driver,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, pingers, rateStore, promhttp.Handler(), service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
