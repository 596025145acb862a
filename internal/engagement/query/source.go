package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
)

// Dataset names one of the two raw extracts.
type Dataset string

const (
	DatasetInteractions Dataset = "interactions"
	DatasetSurveys      Dataset = "surveys"
)

// Datasets lists every extract in load order.
func Datasets() []Dataset {
	return []Dataset{DatasetInteractions, DatasetSurveys}
}

func (d Dataset) IsValid() bool {
	switch d {
	case DatasetInteractions, DatasetSurveys:
		return true
	default:
		return false
	}
}

// Source extracts the raw engagement datasets from the warehouse.
//
// Both extracts drop internal makers, makers that never subscribed, and rows
// of churned accounts dated before the churn month. Survey counts and
// purchase days in the survey extract cover only surveys whose status is not
// archived, deleted or draft; that filter is applied when the extract is
// built, before the per-day and per-month counts are taken.
type Source interface {
	Interactions(ctx context.Context) ([]types.InteractionRecord, error)
	Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error)
	// Fingerprint identifies the query that produces the dataset.
	Fingerprint(dataset Dataset) string
}

// fingerprint hashes the rendered statement together with its month floor.
func fingerprint(statement, floor string) string {
	sum := sha256.Sum256([]byte(statement + "\x00" + floor))
	return hex.EncodeToString(sum[:8])
}

type interactionRow struct {
	MakerID                 string   `gorm:"column:maker_id"`
	AccountID               string   `gorm:"column:account_id"`
	EngagedMonth            string   `gorm:"column:engaged_month"`
	EngagedDays             int      `gorm:"column:engaged_days"`
	TotalEngagedTimeMinutes float64  `gorm:"column:total_engaged_time_minutes"`
	NumUniqueInteractions   int      `gorm:"column:num_unique_interactions"`
	IsGenericActiveMaker    bool     `gorm:"column:is_generic_active_maker"`
	IsResultsActiveMaker    bool     `gorm:"column:is_results_active_maker"`
	AccountTotalARR         *float64 `gorm:"column:account_total_arr"`
}

func (r interactionRow) record() types.InteractionRecord {
	return types.InteractionRecord{
		MakerID:                 r.MakerID,
		AccountID:               r.AccountID,
		EngagedMonth:            r.EngagedMonth,
		EngagedDays:             r.EngagedDays,
		TotalEngagedTimeMinutes: r.TotalEngagedTimeMinutes,
		NumUniqueInteractions:   r.NumUniqueInteractions,
		IsGenericActiveMaker:    r.IsGenericActiveMaker,
		IsResultsActiveMaker:    r.IsResultsActiveMaker,
		AccountTotalARR:         r.AccountTotalARR,
	}
}

type surveyRow struct {
	MakerID                    string    `gorm:"column:maker_id"`
	AccountID                  string    `gorm:"column:account_id"`
	PurchaseMonth              string    `gorm:"column:purchase_month"`
	PurchaseDay                time.Time `gorm:"column:purchase_day"`
	NumDaysWithPurchaseInMonth int       `gorm:"column:num_days_with_purchase_in_month"`
	MonthlyTotalSurveys        int       `gorm:"column:monthly_total_surveys"`
	AccountTotalARR            *float64  `gorm:"column:account_total_arr"`
}

func (r surveyRow) record() types.SurveyPurchaseRecord {
	return types.SurveyPurchaseRecord{
		MakerID:                    r.MakerID,
		AccountID:                  r.AccountID,
		PurchaseMonth:              r.PurchaseMonth,
		PurchaseDay:                r.PurchaseDay,
		NumDaysWithPurchaseInMonth: r.NumDaysWithPurchaseInMonth,
		MonthlyTotalSurveys:        r.MonthlyTotalSurveys,
		AccountTotalARR:            r.AccountTotalARR,
	}
}
