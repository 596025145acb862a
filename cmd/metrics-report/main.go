package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/engagement-metrics/internal/bootstrap"
	"github.com/angelmondragon/engagement-metrics/internal/engagement"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/internal/report"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
	"github.com/angelmondragon/engagement-metrics/pkg/storage/gcs"
)

const serviceName = "metrics-report"

func main() {
	start := flag.String("start", "", "first month to include (YYYY-MM); defaults to the dataset floor")
	end := flag.String("end", "", "last month to include (YYYY-MM); defaults to the last complete month")
	account := flag.String("account", "", "restrict every table to one account id")
	families := flag.String("families", "", "comma-separated families to export (interactions,surveys)")
	outDir := flag.String("out", "", "output directory; overrides ENGAGEMENT_REPORT_OUTPUT_DIR")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName, Output: os.Stderr})

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
		Output:      os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logg, *start, *end, *account, *families, *outDir); err != nil {
		logg.Error(ctx, "metrics report failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, start, end, account, families, outDir string) error {
	warehouse, err := bootstrap.OpenWarehouse(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("bootstrap warehouse: %w", err)
	}
	defer func() {
		if err := warehouse.Close(); err != nil {
			logg.Error(context.Background(), "error closing warehouse", err)
		}
	}()

	redisClient, err := bootstrap.OpenRedis(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.NewRegistry())
	provider, err := bootstrap.NewProvider(cfg, logg, warehouse.Source, redisClient, pipelineMetrics)
	if err != nil {
		return fmt.Errorf("dataset provider: %w", err)
	}

	service, err := engagement.NewService(engagement.ServiceParams{
		Loader:    provider,
		Warehouse: cfg.Warehouse,
		Logger:    logg,
		Metrics:   pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("engagement service: %w", err)
	}

	if outDir == "" {
		outDir = cfg.Report.OutputDir
	}
	var uploader report.Uploader
	if cfg.Report.UploadEnabled() {
		gcsClient, err := gcs.NewClient(ctx, cfg.Report, cfg.GCP, logg)
		if err != nil {
			return fmt.Errorf("bootstrap gcs: %w", err)
		}
		uploader = gcsClient
		logg.Info(logg.WithField(ctx, "bucket", gcsClient.Bucket()), "report files will be uploaded")
	}
	exporter, err := report.NewExporter(report.Params{
		Service:   service,
		OutputDir: outDir,
		Logger:    logg,
		Progress:  os.Stderr,
		Uploader:  uploader,
	})
	if err != nil {
		return err
	}

	manifest, err := exporter.Run(ctx, types.MetricsRequest{
		StartMonth: start,
		EndMonth:   end,
		AccountID:  account,
	}, splitFamilies(families)...)
	if err != nil {
		return err
	}

	fmt.Printf("exported %d tables at %s (%d uploaded)\n", len(manifest.Files), manifest.GeneratedAt.Format("2006-01-02 15:04:05"), len(manifest.Uploaded))
	return nil
}

func splitFamilies(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if family := strings.ToLower(strings.TrimSpace(part)); family != "" {
			out = append(out, family)
		}
	}
	return out
}
