package survey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
)

func arrValue(v float64) *float64 { return &v }

func purchase(maker, account string, day string, monthly int, arrVal *float64) types.SurveyPurchaseRecord {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	r := types.SurveyPurchaseRecord{
		MakerID:             maker,
		AccountID:           account,
		PurchaseMonth:       day[:7],
		PurchaseDay:         d,
		MonthlyTotalSurveys: monthly,
		AccountTotalARR:     arrVal,
	}
	if err := r.Enrich(); err != nil {
		panic(err)
	}
	return r
}

func fixture() []types.SurveyPurchaseRecord {
	small := arrValue(10000)
	large := arrValue(250000)
	return []types.SurveyPurchaseRecord{
		purchase("m1", "a1", "2022-12-20", 2, small),
		purchase("m1", "a1", "2022-12-28", 2, small),
		purchase("m1", "a1", "2023-01-05", 1, small),
		purchase("m1", "a1", "2023-01-15", 1, small),
		purchase("m2", "a2", "2023-02-01", 3, large),
		purchase("m2", "a2", "2023-02-15", 3, large),
		purchase("m3", "a2", "2023-03-10", 4, large),
	}
}

func TestDedupeMonthly(t *testing.T) {
	got := DedupeMonthly(fixture())
	require.Len(t, got, 4)
	assert.Equal(t, "2022-12-20", got[0].PurchaseDay.Format("2006-01-02"))
	assert.Equal(t, "2023-01-05", got[1].PurchaseDay.Format("2006-01-02"))
}

func TestAggregateSurveyTables(t *testing.T) {
	window, err := period.CompleteHalfYearWindow("2022-07", "2023-06")
	require.NoError(t, err)

	got, err := Aggregate(fixture(), window)
	require.NoError(t, err)

	require.Len(t, got.SurveysPerMonth, 4)
	assert.Equal(t, types.MonthlyValue{Month: "2022-12", Value: 2, Observations: 1}, got.SurveysPerMonth[0])
	assert.Equal(t, types.MonthlyValue{Month: "2023-02", Value: 3, Observations: 1}, got.SurveysPerMonth[2])

	assert.Equal(t, []string{"H2 2022", "H1 2023"}, got.HalfYearOrder)
	require.Len(t, got.SurveysByARR, 3)
	assert.Equal(t, arr.BucketUnder50k, got.SurveysByARR[0].Bucket)
	assert.Equal(t, "H2 2022", got.SurveysByARR[0].HalfYear)
	last := got.SurveysByARR[2]
	assert.Equal(t, arr.Bucket100kPlus, last.Bucket)
	assert.Equal(t, 3.5, last.Value)
	assert.Equal(t, 2, last.Makers)
	assert.Equal(t, 1, last.Accounts)

	assert.Equal(t, []types.ARRShare{
		{Bucket: arr.BucketUnder50k, Count: 1, Percent: 50},
		{Bucket: arr.Bucket100kPlus, Count: 1, Percent: 50},
	}, got.AccountShareByARR)
	assert.False(t, got.Advisory.PartialPeriodFallback)
}

func TestAggregatePurchasersAndGaps(t *testing.T) {
	got, err := Aggregate(fixture(), period.Window{Start: "2022-07", End: "2023-06"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2022", "2023"}, got.YearOrder)
	assert.Equal(t, []types.YearPurchasers{
		{Year: "2022", Single: 0, Multiple: 1, Total: 1},
		{Year: "2023", Single: 1, Multiple: 2, Total: 3},
	}, got.Purchasers)

	assert.Equal(t, []types.YearARRValue{
		{Year: "2022", Bucket: arr.BucketUnder50k, Value: 8, Observations: 1},
		{Year: "2023", Bucket: arr.BucketUnder50k, Value: 10, Observations: 1},
		{Year: "2023", Bucket: arr.Bucket100kPlus, Value: 14, Observations: 1},
	}, got.DaysBetweenByARR)

	assert.Equal(t, []types.YearARRShare{
		{Year: "2022", Bucket: arr.BucketUnder50k, Count: 1, Percent: 100},
		{Year: "2022", Bucket: arr.Bucket100kPlus, Count: 0, Percent: 0},
		{Year: "2023", Bucket: arr.BucketUnder50k, Count: 1, Percent: 50},
		{Year: "2023", Bucket: arr.Bucket100kPlus, Count: 1, Percent: 50},
	}, got.MakerShareByYear)
	require.Len(t, got.AccountShareByYear, 4)

	assert.Equal(t, 3, got.Summary.Makers)
	assert.Equal(t, 2, got.Summary.Accounts)
	assert.Equal(t, 2+1+3+4, got.Summary.TotalSurveys)
	assert.Equal(t, 1, got.Summary.SinglePurchasers)
	assert.Equal(t, 2, got.Summary.MultiplePurchasers)
	assert.Equal(t, []types.YearCount{{Year: "2022", Count: 1}, {Year: "2023", Count: 2}}, got.Summary.AccountsPerYear)
}

func TestAggregateSharesSumToHundredWithinYear(t *testing.T) {
	rows := []types.SurveyPurchaseRecord{
		purchase("m1", "a1", "2023-01-02", 1, arrValue(1)),
		purchase("m1", "a1", "2023-01-09", 1, arrValue(1)),
		purchase("m2", "a2", "2023-01-02", 1, arrValue(60000)),
		purchase("m2", "a2", "2023-01-09", 1, arrValue(60000)),
		purchase("m3", "a3", "2023-01-02", 1, arrValue(200000)),
		purchase("m3", "a3", "2023-01-09", 1, arrValue(200000)),
	}
	got, err := Aggregate(rows, period.Window{Start: "2023-01", End: "2023-06"})
	require.NoError(t, err)
	sum := 0.0
	for _, s := range got.MakerShareByYear {
		assert.Equal(t, 33.3, s.Percent)
		sum += s.Percent
	}
	assert.InDelta(t, 99.9, sum, 1e-9)
}

func TestAggregateFallsBackWhenWindowIsEmpty(t *testing.T) {
	rows := fixture()
	short, err := period.CompleteHalfYearWindow("2023-02", "2023-04")
	require.NoError(t, err)

	fallback, err := Aggregate(rows, short)
	require.NoError(t, err)
	full, err := Aggregate(rows, period.Window{Start: "0001-01", End: "9999-12"})
	require.NoError(t, err)

	assert.True(t, fallback.Advisory.PartialPeriodFallback)
	assert.Equal(t, full.SurveysByARR, fallback.SurveysByARR)
	assert.Equal(t, full.AccountShareByARR, fallback.AccountShareByARR)
	assert.Equal(t, full.HalfYearOrder, fallback.HalfYearOrder)
}

func TestAggregateIsDeterministic(t *testing.T) {
	rows := fixture()
	window := period.Window{Start: "2022-07", End: "2023-06"}
	first, err := Aggregate(rows, window)
	require.NoError(t, err)

	shuffled := []types.SurveyPurchaseRecord{rows[6], rows[2], rows[4], rows[0], rows[5], rows[3], rows[1]}
	second, err := Aggregate(shuffled, window)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregateEmptyInput(t *testing.T) {
	got, err := Aggregate([]types.SurveyPurchaseRecord{}, period.Window{Start: "2023-01", End: "2023-06"})
	require.NoError(t, err)
	assert.NotNil(t, got.SurveysPerMonth)
	assert.Empty(t, got.Purchasers)
	assert.Empty(t, got.DaysBetweenByARR)
	assert.NotNil(t, got.Summary.AccountsPerYear)
	assert.Zero(t, got.Summary.TotalSurveys)
}
