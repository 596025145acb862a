package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/dataset"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/interaction"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/survey"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
)

const (
	familyInteractions = "interactions"
	familySurveys      = "surveys"
)

// Service serves the interaction and survey metric families.
type Service interface {
	// InteractionMetrics aggregates the interaction extract over the requested range.
	InteractionMetrics(ctx context.Context, req types.MetricsRequest) (*types.InteractionMetrics, error)
	// SurveyMetrics aggregates the survey extract over the requested range.
	SurveyMetrics(ctx context.Context, req types.MetricsRequest) (*types.SurveyMetrics, error)
	// DefaultRange returns the range used when the caller selects none.
	DefaultRange(dataset query.Dataset) types.MetricsRequest
	// InvalidateSnapshots drops cached extracts so the next request reloads them.
	InvalidateSnapshots(ctx context.Context, datasets ...query.Dataset) error
}

// SnapshotInvalidator is the cache surface the service needs beyond loading.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, datasets ...query.Dataset) error
}

// ServiceParams configure the engagement service.
type ServiceParams struct {
	Loader      dataset.Loader
	Invalidator SnapshotInvalidator
	Warehouse   config.WarehouseConfig
	Logger      *logger.Logger
	Metrics     *metrics.PipelineMetrics
	Now         func() time.Time
}

type service struct {
	loader      dataset.Loader
	invalidator SnapshotInvalidator
	warehouse   config.WarehouseConfig
	logg        *logger.Logger
	metrics     *metrics.PipelineMetrics
	now         func() time.Time
}

// NewService builds the engagement service on top of a dataset loader.
func NewService(params ServiceParams) (Service, error) {
	if params.Loader == nil {
		return nil, fmt.Errorf("dataset loader required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if _, err := period.ParseMonth(params.Warehouse.InteractionFloor); err != nil {
		return nil, fmt.Errorf("interaction floor: %w", err)
	}
	if _, err := period.ParseMonth(params.Warehouse.SurveyFloor); err != nil {
		return nil, fmt.Errorf("survey floor: %w", err)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		loader:      params.Loader,
		invalidator: params.Invalidator,
		warehouse:   params.Warehouse,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

func (s *service) DefaultRange(ds query.Dataset) types.MetricsRequest {
	floor := s.warehouse.InteractionFloor
	if ds == query.DatasetSurveys {
		floor = s.warehouse.SurveyFloor
	}
	start, _ := period.Canonical(floor)
	return types.MetricsRequest{
		StartMonth: start,
		EndMonth:   period.LastCompleteMonth(s.now()).String(),
	}
}

func (s *service) InteractionMetrics(ctx context.Context, req types.MetricsRequest) (*types.InteractionMetrics, error) {
	req, reset, err := s.resolve(query.DatasetInteractions, req)
	if err != nil {
		return nil, err
	}
	window, err := period.CompleteHalfYearWindow(req.StartMonth, req.EndMonth)
	if err != nil {
		return nil, err
	}
	ctx = s.requestContext(ctx, familyInteractions, req)

	rows, err := s.loader.Interactions(ctx)
	if err != nil {
		return nil, err
	}
	selected := make([]types.InteractionRecord, 0, len(rows))
	for _, r := range rows {
		if inRange(r.EngagedMonth, req) && matchesAccount(r.AccountID, req) {
			selected = append(selected, r)
		}
	}

	start := time.Now()
	out, err := interaction.Aggregate(selected, window)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveAggregation(familyInteractions, time.Since(start))
	out.Advisory.RangeReset = reset
	s.recordFallback(ctx, familyInteractions, out.Advisory)
	s.logg.Debug(s.logg.WithField(ctx, "rows", len(selected)), "interaction metrics computed")
	return out, nil
}

func (s *service) SurveyMetrics(ctx context.Context, req types.MetricsRequest) (*types.SurveyMetrics, error) {
	req, reset, err := s.resolve(query.DatasetSurveys, req)
	if err != nil {
		return nil, err
	}
	window, err := period.CompleteHalfYearWindow(req.StartMonth, req.EndMonth)
	if err != nil {
		return nil, err
	}
	ctx = s.requestContext(ctx, familySurveys, req)

	rows, err := s.loader.Surveys(ctx)
	if err != nil {
		return nil, err
	}
	selected := make([]types.SurveyPurchaseRecord, 0, len(rows))
	for _, r := range rows {
		if inRange(r.PurchaseMonth, req) && matchesAccount(r.AccountID, req) {
			selected = append(selected, r)
		}
	}

	start := time.Now()
	out, err := survey.Aggregate(selected, window)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveAggregation(familySurveys, time.Since(start))
	out.Advisory.RangeReset = reset
	s.recordFallback(ctx, familySurveys, out.Advisory)
	s.logg.Debug(s.logg.WithField(ctx, "rows", len(selected)), "survey metrics computed")
	return out, nil
}

func (s *service) InvalidateSnapshots(ctx context.Context, datasets ...query.Dataset) error {
	if s.invalidator == nil {
		return nil
	}
	return s.invalidator.Invalidate(ctx, datasets...)
}

// resolve fills missing bounds with the dataset defaults, validates the
// months and resets an inverted range to the defaults.
func (s *service) resolve(ds query.Dataset, req types.MetricsRequest) (types.MetricsRequest, bool, error) {
	defaults := s.DefaultRange(ds)
	req.StartMonth = strings.TrimSpace(req.StartMonth)
	req.EndMonth = strings.TrimSpace(req.EndMonth)
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.StartMonth == "" {
		req.StartMonth = defaults.StartMonth
	}
	if req.EndMonth == "" {
		req.EndMonth = defaults.EndMonth
	}
	if err := types.ValidateRequest(req); err != nil {
		return req, false, err
	}
	req.StartMonth, _ = period.Canonical(req.StartMonth)
	req.EndMonth, _ = period.Canonical(req.EndMonth)
	if req.EndMonth < req.StartMonth {
		defaults.AccountID = req.AccountID
		return defaults, true, nil
	}
	return req, false, nil
}

func (s *service) requestContext(ctx context.Context, family string, req types.MetricsRequest) context.Context {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"family":      family,
		"start_month": req.StartMonth,
		"end_month":   req.EndMonth,
	})
	if req.AccountID != "" {
		ctx = s.logg.WithAccountID(ctx, req.AccountID)
	}
	return ctx
}

func (s *service) recordFallback(ctx context.Context, family string, advisory types.Advisory) {
	if !advisory.PartialPeriodFallback {
		return
	}
	s.metrics.IncWindowFallback(family)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"window_start": advisory.ARRWindow.Start,
		"window_end":   advisory.ARRWindow.End,
	}), "no complete half-year in range; ARR tables use the full range")
}

func inRange(month string, req types.MetricsRequest) bool {
	return month >= req.StartMonth && month <= req.EndMonth
}

func matchesAccount(accountID string, req types.MetricsRequest) bool {
	return req.AccountID == "" || accountID == req.AccountID
}
