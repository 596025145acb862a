package query

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
)

const (
	sqlInteractionSQL = `
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
WHERE engaged_month >= ?
  AND NOT is_internal_maker
  AND has_ever_subscribed
  AND (account_type <> 'Churned Customer' OR churned_month <= engaged_month)
ORDER BY maker_id, engaged_month
`

	sqlSurveySQL = `
SELECT
  maker_id,
  account_id,
  purchase_month,
  purchase_day,
  num_days_with_purchase_in_month,
  monthly_total_surveys,
  account_total_arr
FROM %s
WHERE purchase_month >= ?
  AND NOT is_internal_maker
  AND has_ever_subscribed
  AND (account_type <> 'Churned Customer' OR churned_month <= purchase_month)
ORDER BY maker_id, purchase_day
`
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Querier is the slice of pkg/db used by the SQL source.
type Querier interface {
	Raw(ctx context.Context, query string, args ...any) *gorm.DB
}

type sqlSource struct {
	db             Querier
	interactionSQL string
	surveySQL      string
	warehouse      config.WarehouseConfig
}

// NewSQLSource reads both extracts from relational tables through GORM.
func NewSQLSource(db Querier, warehouse config.WarehouseConfig) (Source, error) {
	if db == nil {
		return nil, fmt.Errorf("database client required")
	}
	for _, table := range []string{warehouse.InteractionTable, warehouse.SurveyTable} {
		if !tableNamePattern.MatchString(table) {
			return nil, fmt.Errorf("invalid extract table name %q", table)
		}
	}
	return &sqlSource{
		db:             db,
		interactionSQL: fmt.Sprintf(sqlInteractionSQL, warehouse.InteractionTable),
		surveySQL:      fmt.Sprintf(sqlSurveySQL, warehouse.SurveyTable),
		warehouse:      warehouse,
	}, nil
}

func (s *sqlSource) Fingerprint(dataset Dataset) string {
	if dataset == DatasetSurveys {
		return fingerprint(s.surveySQL, s.warehouse.SurveyFloor)
	}
	return fingerprint(s.interactionSQL, s.warehouse.InteractionFloor)
}

func (s *sqlSource) Interactions(ctx context.Context) ([]types.InteractionRecord, error) {
	var rows []interactionRow
	if err := s.db.Raw(ctx, s.interactionSQL, s.warehouse.InteractionFloor).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	out := make([]types.InteractionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *sqlSource) Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error) {
	var rows []surveyRow
	if err := s.db.Raw(ctx, s.surveySQL, s.warehouse.SurveyFloor).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query surveys: %w", err)
	}
	out := make([]types.SurveyPurchaseRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}
