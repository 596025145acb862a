// Package bootstrap wires the warehouse source and dataset provider shared by
// every command.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/dataset"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/pkg/bigquery"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/db"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
	"github.com/angelmondragon/engagement-metrics/pkg/migrate"
	"github.com/angelmondragon/engagement-metrics/pkg/redis"
)

// Pinger is a dependency that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Warehouse holds the extraction source and the clients behind it.
type Warehouse struct {
	Source  query.Source
	Pingers map[string]Pinger
	closers []func() error
}

// Close releases every client opened for the warehouse.
func (w *Warehouse) Close() error {
	var errs error
	for _, closeFn := range w.closers {
		errs = multierr.Append(errs, closeFn())
	}
	return errs
}

// OpenWarehouse connects to the configured warehouse driver and wraps the
// source in a circuit breaker.
func OpenWarehouse(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Warehouse, error) {
	w := &Warehouse{Pingers: map[string]Pinger{}}
	var source query.Source

	if cfg.Warehouse.UsesSQL() {
		dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		w.closers = append(w.closers, dbClient.Close)
		w.Pingers["database"] = dbClient

		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), w.Close())
		}
		source, err = query.NewSQLSource(dbClient, cfg.Warehouse)
		if err != nil {
			return nil, multierr.Append(err, w.Close())
		}
	} else {
		bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, cfg.Warehouse, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap bigquery: %w", err)
		}
		w.closers = append(w.closers, bq.Close)
		w.Pingers["bigquery"] = bq

		source, err = query.NewBigQuerySource(bq, cfg.Warehouse)
		if err != nil {
			return nil, multierr.Append(err, w.Close())
		}
	}

	w.Source = query.WithBreaker(source, cfg.Breaker, logg)
	return w, nil
}

// OpenRedis connects to Redis when it is configured. A nil client means the
// snapshot cache runs in memory only.
func OpenRedis(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		logg.Warn(ctx, "redis not configured; snapshots are cached in memory only")
		return nil, nil
	}
	return redis.New(ctx, cfg.Redis, logg)
}

// NewProvider builds the dataset provider on top of the warehouse source.
func NewProvider(cfg *config.Config, logg *logger.Logger, source query.Source, redisClient *redis.Client, m *metrics.PipelineMetrics) (*dataset.Provider, error) {
	params := dataset.Params{
		Source:      source,
		Logger:      logg,
		Metrics:     m,
		SnapshotTTL: cfg.Cache.SnapshotTTL,
		MemoryTTL:   cfg.Cache.MemoryTTL,
		LoadTimeout: cfg.Cache.LoadTimeout,
	}
	if redisClient != nil {
		params.Store = redisClient
	}
	return dataset.NewProvider(params)
}
