package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/dataset"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

// SnapshotRefresher re-extracts one dataset into the snapshot cache.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, ds query.Dataset) (dataset.Stats, error)
}

// SnapshotRefreshJob keeps one dataset snapshot warm.
type SnapshotRefreshJob struct {
	refresher SnapshotRefresher
	dataset   query.Dataset
	logg      *logger.Logger
}

// NewSnapshotRefreshJob builds the warm-up job for a dataset.
func NewSnapshotRefreshJob(refresher SnapshotRefresher, ds query.Dataset, logg *logger.Logger) (*SnapshotRefreshJob, error) {
	if refresher == nil {
		return nil, fmt.Errorf("snapshot refresher required")
	}
	if !ds.IsValid() {
		return nil, fmt.Errorf("unknown dataset %q", ds)
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SnapshotRefreshJob{refresher: refresher, dataset: ds, logg: logg}, nil
}

// SnapshotJobs builds one refresh job per dataset.
func SnapshotJobs(refresher SnapshotRefresher, logg *logger.Logger) ([]Job, error) {
	jobs := make([]Job, 0, len(query.Datasets()))
	for _, ds := range query.Datasets() {
		job, err := NewSnapshotRefreshJob(refresher, ds, logg)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (j *SnapshotRefreshJob) Name() string {
	return "snapshot-refresh-" + string(j.dataset)
}

func (j *SnapshotRefreshJob) Run(ctx context.Context) error {
	stats, err := j.refresher.Refresh(ctx, j.dataset)
	if err != nil {
		return fmt.Errorf("refresh %s snapshot: %w", j.dataset, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"dataset":     stats.Dataset,
		"rows":        stats.Rows,
		"fingerprint": stats.Fingerprint,
	}), "snapshot refreshed")
	return nil
}
