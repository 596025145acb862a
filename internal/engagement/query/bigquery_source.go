package query

import (
	"context"
	"fmt"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/bigquery"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
)

const (
	bqInteractionSQL = `
SELECT
  maker_id,
  account_id,
  engaged_month,
  engaged_days,
  total_engaged_time_minutes,
  num_unique_interactions,
  is_generic_active_maker,
  is_results_active_maker,
  account_total_arr
FROM %s
WHERE engaged_month >= @floor
  AND NOT is_internal_maker
  AND has_ever_subscribed
  AND (account_type <> 'Churned Customer' OR churned_month <= engaged_month)
ORDER BY maker_id, engaged_month
`

	bqSurveySQL = `
SELECT
  maker_id,
  account_id,
  purchase_month,
  FORMAT_DATE('%%F', purchase_day) AS purchase_day,
  num_days_with_purchase_in_month,
  monthly_total_surveys,
  account_total_arr
FROM %s
WHERE purchase_month >= @floor
  AND NOT is_internal_maker
  AND has_ever_subscribed
  AND (account_type <> 'Churned Customer' OR churned_month <= purchase_month)
ORDER BY maker_id, purchase_day
`
)

type rowIterator interface {
	Next(dst any) error
}

type bigQueryRunner interface {
	Query(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (rowIterator, error)
}

type clientRunner struct {
	client *bigquery.Client
}

func (r clientRunner) Query(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (rowIterator, error) {
	it, err := r.client.Query(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	return it, nil
}

type bigQuerySource struct {
	runner         bigQueryRunner
	interactionSQL string
	surveySQL      string
	warehouse      config.WarehouseConfig
}

// NewBigQuerySource reads both extracts from BigQuery tables.
func NewBigQuerySource(client *bigquery.Client, warehouse config.WarehouseConfig) (Source, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	return newBigQuerySource(clientRunner{client: client}, client.TableRef(warehouse.InteractionTable), client.TableRef(warehouse.SurveyTable), warehouse)
}

func newBigQuerySource(runner bigQueryRunner, interactionRef, surveyRef string, warehouse config.WarehouseConfig) (*bigQuerySource, error) {
	if interactionRef == "" || surveyRef == "" {
		return nil, fmt.Errorf("interaction and survey tables are required")
	}
	return &bigQuerySource{
		runner:         runner,
		interactionSQL: fmt.Sprintf(bqInteractionSQL, interactionRef),
		surveySQL:      fmt.Sprintf(bqSurveySQL, surveyRef),
		warehouse:      warehouse,
	}, nil
}

func (s *bigQuerySource) Fingerprint(dataset Dataset) string {
	if dataset == DatasetSurveys {
		return fingerprint(s.surveySQL, s.warehouse.SurveyFloor)
	}
	return fingerprint(s.interactionSQL, s.warehouse.InteractionFloor)
}

func (s *bigQuerySource) Interactions(ctx context.Context) ([]types.InteractionRecord, error) {
	iter, err := s.runner.Query(ctx, s.interactionSQL, floorParams(s.warehouse.InteractionFloor))
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}

	rows := []types.InteractionRecord{}
	for {
		var row struct {
			MakerID                 string                    `bigquery:"maker_id"`
			AccountID               string                    `bigquery:"account_id"`
			EngagedMonth            string                    `bigquery:"engaged_month"`
			EngagedDays             int64                     `bigquery:"engaged_days"`
			TotalEngagedTimeMinutes float64                   `bigquery:"total_engaged_time_minutes"`
			NumUniqueInteractions   int64                     `bigquery:"num_unique_interactions"`
			IsGenericActiveMaker    bool                      `bigquery:"is_generic_active_maker"`
			IsResultsActiveMaker    bool                      `bigquery:"is_results_active_maker"`
			AccountTotalARR         cloudbigquery.NullFloat64 `bigquery:"account_total_arr"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading interaction row: %w", err)
		}
		rows = append(rows, interactionRow{
			MakerID:                 row.MakerID,
			AccountID:               row.AccountID,
			EngagedMonth:            row.EngagedMonth,
			EngagedDays:             int(row.EngagedDays),
			TotalEngagedTimeMinutes: row.TotalEngagedTimeMinutes,
			NumUniqueInteractions:   int(row.NumUniqueInteractions),
			IsGenericActiveMaker:    row.IsGenericActiveMaker,
			IsResultsActiveMaker:    row.IsResultsActiveMaker,
			AccountTotalARR:         nullFloat(row.AccountTotalARR),
		}.record())
	}
	return rows, nil
}

func (s *bigQuerySource) Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error) {
	iter, err := s.runner.Query(ctx, s.surveySQL, floorParams(s.warehouse.SurveyFloor))
	if err != nil {
		return nil, fmt.Errorf("query surveys: %w", err)
	}

	rows := []types.SurveyPurchaseRecord{}
	for {
		var row struct {
			MakerID                    string                    `bigquery:"maker_id"`
			AccountID                  string                    `bigquery:"account_id"`
			PurchaseMonth              string                    `bigquery:"purchase_month"`
			PurchaseDay                string                    `bigquery:"purchase_day"`
			NumDaysWithPurchaseInMonth int64                     `bigquery:"num_days_with_purchase_in_month"`
			MonthlyTotalSurveys        int64                     `bigquery:"monthly_total_surveys"`
			AccountTotalARR            cloudbigquery.NullFloat64 `bigquery:"account_total_arr"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading survey row: %w", err)
		}
		day, err := time.Parse(time.DateOnly, row.PurchaseDay)
		if err != nil {
			return nil, fmt.Errorf("parsing purchase_day %q for maker %s: %w", row.PurchaseDay, row.MakerID, err)
		}
		rows = append(rows, surveyRow{
			MakerID:                    row.MakerID,
			AccountID:                  row.AccountID,
			PurchaseMonth:              row.PurchaseMonth,
			PurchaseDay:                day,
			NumDaysWithPurchaseInMonth: int(row.NumDaysWithPurchaseInMonth),
			MonthlyTotalSurveys:        int(row.MonthlyTotalSurveys),
			AccountTotalARR:            nullFloat(row.AccountTotalARR),
		}.record())
	}
	return rows, nil
}

func floorParams(floor string) []cloudbigquery.QueryParameter {
	return []cloudbigquery.QueryParameter{{Name: "floor", Value: floor}}
}

func nullFloat(v cloudbigquery.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
