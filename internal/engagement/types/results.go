package types

import (
	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
)

// MonthlyActiveMakers backs the active-makers stacked bar.
type MonthlyActiveMakers struct {
	Month            string `json:"month"`
	TotalMakers      int    `json:"total_makers"`
	GenericActive    int    `json:"generic_active_makers"`
	ResultsActive    int    `json:"results_active_makers"`
	NonResultsActive int    `json:"non_results_active_makers"`
}

// MonthlyValue is a rounded mean for one month.
type MonthlyValue struct {
	Month        string  `json:"month"`
	Value        float64 `json:"value"`
	Observations int     `json:"observations"`
}

// ARRPeriodValue is a rounded mean for one (bucket, half-year) pair.
type ARRPeriodValue struct {
	Bucket   arr.Bucket `json:"arr_bucket"`
	HalfYear string     `json:"half_year_period"`
	Value    float64    `json:"value"`
	Makers   int        `json:"makers"`
	Accounts int        `json:"accounts"`
}

// ARRShare is the distinct count and percentage of one bucket.
type ARRShare struct {
	Bucket  arr.Bucket `json:"arr_bucket"`
	Count   int        `json:"count"`
	Percent float64    `json:"percent"`
}

// YearARRValue is a rounded mean for one (year, bucket) pair.
type YearARRValue struct {
	Year         string     `json:"purchase_year"`
	Bucket       arr.Bucket `json:"arr_bucket"`
	Value        float64    `json:"value"`
	Observations int        `json:"observations"`
}

// YearARRShare is a bucket share normalized within one year.
type YearARRShare struct {
	Year    string     `json:"purchase_year"`
	Bucket  arr.Bucket `json:"arr_bucket"`
	Count   int        `json:"count"`
	Percent float64    `json:"percent"`
}

// YearPurchasers splits a year's purchasing makers into single and multiple.
type YearPurchasers struct {
	Year     string `json:"purchase_year"`
	Single   int    `json:"single_purchasers"`
	Multiple int    `json:"multiple_purchasers"`
	Total    int    `json:"total"`
}

// YearCount is a distinct count for one year.
type YearCount struct {
	Year  string `json:"purchase_year"`
	Count int    `json:"count"`
}

// Advisory carries caller-visible notes about how a result was computed.
type Advisory struct {
	PartialPeriodFallback bool          `json:"partial_period_fallback"`
	ARRWindow             period.Window `json:"arr_window"`
	RangeReset            bool          `json:"range_reset,omitempty"`
}

// InteractionSummary holds the headline numbers of the interaction page.
type InteractionSummary struct {
	ActiveMakers        int `json:"active_makers"`
	ActiveResultsMakers int `json:"active_results_makers"`
}

// InteractionMetrics is every table derived from interaction rows.
type InteractionMetrics struct {
	ActiveMakers     []MonthlyActiveMakers `json:"active_makers"`
	EngagedTime      []MonthlyValue        `json:"engaged_time"`
	EngagedTimeByARR []ARRPeriodValue      `json:"engaged_time_by_arr"`
	DaysEngaged      []MonthlyValue        `json:"days_engaged"`
	DaysEngagedByARR []ARRPeriodValue      `json:"days_engaged_by_arr"`
	MakerShareByARR  []ARRShare            `json:"maker_share_by_arr"`
	HalfYearOrder    []string              `json:"half_year_order"`
	Summary          InteractionSummary    `json:"summary"`
	Advisory         Advisory              `json:"advisory"`
}

// SurveySummary holds the headline numbers of the survey page.
type SurveySummary struct {
	Makers             int         `json:"makers"`
	Accounts           int         `json:"accounts"`
	TotalSurveys       int         `json:"total_surveys"`
	SinglePurchasers   int         `json:"single_purchasers"`
	MultiplePurchasers int         `json:"multiple_purchasers"`
	AccountsPerYear    []YearCount `json:"accounts_per_year"`
}

// SurveyMetrics is every table derived from survey purchase rows.
type SurveyMetrics struct {
	SurveysPerMonth    []MonthlyValue   `json:"surveys_per_month"`
	SurveysByARR       []ARRPeriodValue `json:"surveys_by_arr"`
	AccountShareByARR  []ARRShare       `json:"account_share_by_arr"`
	Purchasers         []YearPurchasers `json:"purchasers"`
	DaysBetweenByARR   []YearARRValue   `json:"days_between_by_arr"`
	MakerShareByYear   []YearARRShare   `json:"maker_share_by_year"`
	AccountShareByYear []YearARRShare   `json:"account_share_by_year"`
	YearOrder          []string         `json:"year_order"`
	HalfYearOrder      []string         `json:"half_year_order"`
	Summary            SurveySummary    `json:"summary"`
	Advisory           Advisory         `json:"advisory"`
}
