package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/engagement-metrics/api/middleware"
	"github.com/angelmondragon/engagement-metrics/api/responses"
	"github.com/angelmondragon/engagement-metrics/api/validators"
	"github.com/angelmondragon/engagement-metrics/internal/engagement"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

// InteractionMetrics serves the interaction metric family.
func InteractionMetrics(service engagement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, err := metricsRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := service.InteractionMetrics(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SurveyMetrics serves the survey purchase metric family.
func SurveyMetrics(service engagement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, err := metricsRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := service.SurveyMetrics(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type rangeResponse struct {
	Interactions types.MetricsRequest `json:"interactions"`
	Surveys      types.MetricsRequest `json:"surveys"`
}

// DefaultRanges reports the range each family uses when none is selected.
func DefaultRanges(service engagement.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, rangeResponse{
			Interactions: service.DefaultRange(query.DatasetInteractions),
			Surveys:      service.DefaultRange(query.DatasetSurveys),
		})
	}
}

type invalidateRequest struct {
	Datasets []string `json:"datasets" validate:"omitempty,dive,oneof=interactions surveys"`
}

type invalidateResponse struct {
	Invalidated []string  `json:"invalidated"`
	At          time.Time `json:"invalidated_at"`
}

// InvalidateSnapshots drops cached extracts. An empty body covers every dataset.
func InvalidateSnapshots(service engagement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var body invalidateRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		datasets := make([]query.Dataset, 0, len(body.Datasets))
		for _, name := range body.Datasets {
			datasets = append(datasets, query.Dataset(name))
		}
		if len(datasets) == 0 {
			datasets = query.Datasets()
		}

		if err := service.InvalidateSnapshots(ctx, datasets...); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		names := make([]string, len(datasets))
		for i, ds := range datasets {
			names[i] = string(ds)
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "datasets", names), "snapshots invalidated")
		}
		responses.WriteSuccess(w, invalidateResponse{Invalidated: names, At: timeNowUTC()})
	}
}

func metricsRequest(r *http.Request) (types.MetricsRequest, error) {
	var req types.MetricsRequest
	var err error
	if req.StartMonth, err = validators.QueryString(r, "start_month"); err != nil {
		return req, err
	}
	if req.EndMonth, err = validators.QueryString(r, "end_month"); err != nil {
		return req, err
	}
	if req.AccountID, err = validators.QueryString(r, "account_id"); err != nil {
		return req, err
	}

	if scope := middleware.AccountScopeFromContext(r.Context()); scope != "" {
		if req.AccountID != "" && req.AccountID != scope {
			return req, pkgerrors.New(pkgerrors.CodeForbidden, "account outside token scope")
		}
		req.AccountID = scope
	}
	return req, nil
}

var timeNowUTC = func() time.Time {
	return time.Now().UTC()
}
