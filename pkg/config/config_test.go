package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.App.Port)
	}
	if cfg.Warehouse.InteractionFloor != "2022-10" || cfg.Warehouse.SurveyFloor != "2022-01" {
		t.Fatalf("unexpected floors %q %q", cfg.Warehouse.InteractionFloor, cfg.Warehouse.SurveyFloor)
	}
	if cfg.Cache.LoadTimeout != 2*time.Minute {
		t.Fatalf("expected load timeout 2m, got %v", cfg.Cache.LoadTimeout)
	}
	if cfg.Cache.SnapshotTTL != 24*time.Hour {
		t.Fatalf("expected snapshot ttl 24h, got %v", cfg.Cache.SnapshotTTL)
	}
	if cfg.Refresh.Interval != time.Hour {
		t.Fatalf("expected refresh interval 1h, got %v", cfg.Refresh.Interval)
	}
	if cfg.Breaker.MaxFailures != 3 {
		t.Fatalf("expected breaker max failures 3, got %d", cfg.Breaker.MaxFailures)
	}
	if !cfg.Redis.Enabled() {
		t.Fatal("expected redis to be enabled")
	}
	if cfg.JWT.Enabled() {
		t.Fatal("jwt auth should be disabled without a secret")
	}
	if cfg.RateLimit.Limit != 120 || len(cfg.RateLimit.AllowedOrigins) != 1 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if !cfg.Refresh.Warm {
		t.Fatal("expected warm refresh by default")
	}
	if cfg.Report.UploadEnabled() || cfg.Report.GCSPrefix != "engagement-metrics" {
		t.Fatalf("unexpected report defaults %+v", cfg.Report)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RejectsUnknownWarehouseDriver(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvWarehouseDriver, "duckdb")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), EnvWarehouseDriver) {
		t.Fatalf("expected warehouse driver error, got %v", err)
	}
}

func TestLoad_PostgresWarehouseBuildsDSN(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvWarehouseDriver, "postgres")
	t.Setenv(EnvDBHost, "db.internal")
	t.Setenv(EnvDBUser, "reader")
	t.Setenv(EnvDBName, "dwh")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.DB.DSN != "postgres://reader@db.internal:5432/dwh?sslmode=disable" {
		t.Fatalf("unexpected DSN %q", cfg.DB.DSN)
	}
}

func TestLoad_PostgresWarehouseRequiresConnection(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvWarehouseDriver, "postgres")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), EnvDBDSN) {
		t.Fatalf("expected DSN error, got %v", err)
	}

	t.Setenv(EnvUseSQLite, "true")
	if _, err := Load(); err != nil {
		t.Fatalf("sqlite mode should not require a DSN: %v", err)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvGCPProjectID, "project-123")
	for _, key := range []string{EnvWarehouseDriver, EnvDBDSN, EnvDBHost, EnvDBUser, EnvDBName, EnvUseSQLite} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
}
