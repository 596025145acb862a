package types

import (
	"strconv"
	"time"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
)

// InteractionRecord is one maker's engagement in one month.
type InteractionRecord struct {
	MakerID                 string   `json:"maker_id" validate:"required"`
	AccountID               string   `json:"account_id" validate:"required"`
	EngagedMonth            string   `json:"engaged_month" validate:"required,yearmonth"`
	EngagedDays             int      `json:"engaged_days" validate:"gte=0,lte=31"`
	TotalEngagedTimeMinutes float64  `json:"total_engaged_time_minutes" validate:"finite,gte=0"`
	NumUniqueInteractions   int      `json:"num_unique_interactions" validate:"gte=0"`
	IsGenericActiveMaker    bool     `json:"is_generic_active_maker"`
	IsResultsActiveMaker    bool     `json:"is_results_active_maker"`
	AccountTotalARR         *float64 `json:"account_total_arr" validate:"omitempty,finite"`

	ARRBucket      arr.Bucket `json:"-"`
	HalfYearPeriod string     `json:"-"`
}

// Enrich derives the ARR bucket and half-year label from authoritative fields.
func (r *InteractionRecord) Enrich() error {
	month, err := period.Canonical(r.EngagedMonth)
	if err != nil {
		return err
	}
	label, err := period.HalfYearLabel(month)
	if err != nil {
		return err
	}
	r.EngagedMonth = month
	r.ARRBucket = arr.Classify(r.AccountTotalARR)
	r.HalfYearPeriod = label
	return nil
}

// SurveyPurchaseRecord is one maker purchase-day in an account/month context.
type SurveyPurchaseRecord struct {
	MakerID                    string    `json:"maker_id" validate:"required"`
	AccountID                  string    `json:"account_id" validate:"required"`
	PurchaseMonth              string    `json:"purchase_month" validate:"required,yearmonth"`
	PurchaseDay                time.Time `json:"purchase_day" validate:"required"`
	NumDaysWithPurchaseInMonth int       `json:"num_days_with_purchase_in_month" validate:"gte=0,lte=31"`
	MonthlyTotalSurveys        int       `json:"monthly_total_surveys" validate:"gte=0"`
	PurchaseYear               string    `json:"purchase_year"`
	AccountTotalARR            *float64  `json:"account_total_arr" validate:"omitempty,finite"`

	ARRBucket      arr.Bucket `json:"-"`
	HalfYearPeriod string     `json:"-"`
}

// Enrich normalizes the purchase day to UTC midnight, derives the purchase
// year and fills the enrichment fields.
func (r *SurveyPurchaseRecord) Enrich() error {
	month, err := period.Canonical(r.PurchaseMonth)
	if err != nil {
		return err
	}
	label, err := period.HalfYearLabel(month)
	if err != nil {
		return err
	}
	day := r.PurchaseDay
	r.PurchaseDay = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	r.PurchaseMonth = month
	r.PurchaseYear = strconv.Itoa(r.PurchaseDay.Year())
	r.ARRBucket = arr.Classify(r.AccountTotalARR)
	r.HalfYearPeriod = label
	return nil
}

// PurchaseGapRecord adds the whole-day gap to the maker's previous purchase in
// the same account and calendar year. A nil gap means undefined.
type PurchaseGapRecord struct {
	SurveyPurchaseRecord
	DaysSincePreviousPurchase *int `json:"days_since_previous_purchase"`
}

// HasGap reports whether the gap is defined.
func (r PurchaseGapRecord) HasGap() bool {
	return r.DaysSincePreviousPurchase != nil
}

// MetricsRequest carries the caller-selected range and optional drill-down.
type MetricsRequest struct {
	StartMonth string `json:"start_month" validate:"required,yearmonth"`
	EndMonth   string `json:"end_month" validate:"required,yearmonth"`
	AccountID  string `json:"account_id,omitempty"`
}
