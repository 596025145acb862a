package survey

import (
	"sort"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/purchasegap"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/stats"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
)

const (
	surveysPlaces     = 2
	daysBetweenPlaces = 1
	sharePlaces       = 1
)

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

type periodKey struct {
	bucket   arr.Bucket
	halfYear string
}

type yearKey struct {
	year   string
	bucket arr.Bucket
}

// Aggregate derives every survey table from rows already restricted to the
// selected range. ARR tables use only rows inside window and fall back to all
// rows, with the advisory set, when the window holds none.
func Aggregate(rows []types.SurveyPurchaseRecord, window period.Window) (*types.SurveyMetrics, error) {
	out := &types.SurveyMetrics{
		SurveysPerMonth:    []types.MonthlyValue{},
		SurveysByARR:       []types.ARRPeriodValue{},
		AccountShareByARR:  []types.ARRShare{},
		Purchasers:         []types.YearPurchasers{},
		DaysBetweenByARR:   []types.YearARRValue{},
		MakerShareByYear:   []types.YearARRShare{},
		AccountShareByYear: []types.YearARRShare{},
		YearOrder:          []string{},
		HalfYearOrder:      []string{},
		Summary:            types.SurveySummary{AccountsPerYear: []types.YearCount{}},
		Advisory:           types.Advisory{ARRWindow: window},
	}
	if len(rows) == 0 {
		return out, nil
	}

	rows, err := enriched(rows)
	if err != nil {
		return nil, err
	}

	monthly := DedupeMonthly(rows)
	aggregateMonthly(out, monthly)
	summarize(out, rows, monthly)

	arrRows := make([]types.SurveyPurchaseRecord, 0, len(rows))
	for _, r := range rows {
		if window.Contains(r.PurchaseMonth) {
			arrRows = append(arrRows, r)
		}
	}
	if len(arrRows) == 0 {
		arrRows = rows
		out.Advisory.PartialPeriodFallback = true
	}
	aggregateByARR(out, arrRows)

	aggregateGaps(out, purchasegap.Compute(rows))
	return out, nil
}

// DedupeMonthly keeps one row per (maker, purchase month). Rows are visited in
// (maker, month, account, day) order so the kept row does not depend on input
// order.
func DedupeMonthly(rows []types.SurveyPurchaseRecord) []types.SurveyPurchaseRecord {
	sorted := make([]types.SurveyPurchaseRecord, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.MakerID != b.MakerID {
			return a.MakerID < b.MakerID
		}
		if a.PurchaseMonth != b.PurchaseMonth {
			return a.PurchaseMonth < b.PurchaseMonth
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.PurchaseDay.Before(b.PurchaseDay)
	})

	out := make([]types.SurveyPurchaseRecord, 0, len(sorted))
	for i, r := range sorted {
		if i > 0 && sorted[i-1].MakerID == r.MakerID && sorted[i-1].PurchaseMonth == r.PurchaseMonth {
			continue
		}
		out = append(out, r)
	}
	return out
}

func aggregateMonthly(out *types.SurveyMetrics, monthly []types.SurveyPurchaseRecord) {
	surveys := map[string][]float64{}
	for _, r := range monthly {
		surveys[r.PurchaseMonth] = append(surveys[r.PurchaseMonth], float64(r.MonthlyTotalSurveys))
	}
	for _, month := range sortedKeys(surveys) {
		values := surveys[month]
		mean, _ := stats.RoundedMean(values, surveysPlaces)
		out.SurveysPerMonth = append(out.SurveysPerMonth, types.MonthlyValue{Month: month, Value: mean, Observations: len(values)})
	}
}

func summarize(out *types.SurveyMetrics, rows, monthly []types.SurveyPurchaseRecord) {
	makers, accounts := set{}, set{}
	rowsPerMaker := map[string]int{}
	accountsPerYear := map[string]set{}
	for _, r := range rows {
		makers.add(r.MakerID)
		accounts.add(r.AccountID)
		rowsPerMaker[r.MakerID]++
		if accountsPerYear[r.PurchaseYear] == nil {
			accountsPerYear[r.PurchaseYear] = set{}
		}
		accountsPerYear[r.PurchaseYear].add(r.AccountID)
	}

	total := 0
	for _, r := range monthly {
		total += r.MonthlyTotalSurveys
	}

	single, multiple := 0, 0
	for _, n := range rowsPerMaker {
		if n == 1 {
			single++
		} else {
			multiple++
		}
	}

	out.Summary.Makers = len(makers)
	out.Summary.Accounts = len(accounts)
	out.Summary.TotalSurveys = total
	out.Summary.SinglePurchasers = single
	out.Summary.MultiplePurchasers = multiple
	for _, year := range sortedKeys(accountsPerYear) {
		out.Summary.AccountsPerYear = append(out.Summary.AccountsPerYear, types.YearCount{Year: year, Count: len(accountsPerYear[year])})
		out.YearOrder = append(out.YearOrder, year)
	}
}

func aggregateByARR(out *types.SurveyMetrics, rows []types.SurveyPurchaseRecord) {
	type acc struct {
		makers, accounts set
		surveys          []float64
	}
	groups := map[periodKey]*acc{}
	labels := make([]string, 0, len(rows))
	for _, r := range DedupeMonthly(rows) {
		key := periodKey{bucket: r.ARRBucket, halfYear: r.HalfYearPeriod}
		g, ok := groups[key]
		if !ok {
			g = &acc{makers: set{}, accounts: set{}}
			groups[key] = g
		}
		g.makers.add(r.MakerID)
		g.accounts.add(r.AccountID)
		g.surveys = append(g.surveys, float64(r.MonthlyTotalSurveys))
		labels = append(labels, r.HalfYearPeriod)
	}
	for key, g := range groups {
		mean, _ := stats.RoundedMean(g.surveys, surveysPlaces)
		out.SurveysByARR = append(out.SurveysByARR, types.ARRPeriodValue{
			Bucket: key.bucket, HalfYear: key.halfYear, Value: mean,
			Makers: len(g.makers), Accounts: len(g.accounts),
		})
	}
	types.SortARRPeriodValues(out.SurveysByARR)

	bucketAccounts := map[arr.Bucket]set{}
	for _, r := range rows {
		if bucketAccounts[r.ARRBucket] == nil {
			bucketAccounts[r.ARRBucket] = set{}
		}
		bucketAccounts[r.ARRBucket].add(r.AccountID)
	}
	counts := make(map[arr.Bucket]int, len(bucketAccounts))
	for bucket, accounts := range bucketAccounts {
		counts[bucket] = len(accounts)
	}
	out.AccountShareByARR = types.BucketShares(counts, sharePlaces)

	if ordered, err := period.OrderedHalfYears(labels); err == nil {
		out.HalfYearOrder = ordered
	}
}

func aggregateGaps(out *types.SurveyMetrics, gaps []types.PurchaseGapRecord) {
	rowsPerYearMaker := map[string]map[string]int{}
	gapValues := map[yearKey][]float64{}
	yearMakers := map[yearKey]set{}
	yearAccounts := map[yearKey]set{}
	buckets := map[arr.Bucket]struct{}{}
	years := set{}

	for _, g := range gaps {
		if rowsPerYearMaker[g.PurchaseYear] == nil {
			rowsPerYearMaker[g.PurchaseYear] = map[string]int{}
		}
		rowsPerYearMaker[g.PurchaseYear][g.MakerID]++
		if !g.HasGap() {
			continue
		}
		key := yearKey{year: g.PurchaseYear, bucket: g.ARRBucket}
		gapValues[key] = append(gapValues[key], float64(*g.DaysSincePreviousPurchase))
		if yearMakers[key] == nil {
			yearMakers[key] = set{}
			yearAccounts[key] = set{}
		}
		yearMakers[key].add(g.MakerID)
		yearAccounts[key].add(g.AccountID)
		buckets[g.ARRBucket] = struct{}{}
		years.add(g.PurchaseYear)
	}

	for _, year := range sortedKeys(rowsPerYearMaker) {
		row := types.YearPurchasers{Year: year}
		for _, n := range rowsPerYearMaker[year] {
			if n == 1 {
				row.Single++
			} else {
				row.Multiple++
			}
		}
		row.Total = row.Single + row.Multiple
		out.Purchasers = append(out.Purchasers, row)
	}

	ordered := orderedBuckets(buckets)
	for _, year := range sortedKeys(years) {
		for _, bucket := range ordered {
			key := yearKey{year: year, bucket: bucket}
			if values, ok := gapValues[key]; ok {
				mean, _ := stats.RoundedMean(values, daysBetweenPlaces)
				out.DaysBetweenByARR = append(out.DaysBetweenByARR, types.YearARRValue{
					Year: year, Bucket: bucket, Value: mean, Observations: len(values),
				})
			}
		}
		out.MakerShareByYear = append(out.MakerShareByYear, yearShares(year, ordered, yearMakers)...)
		out.AccountShareByYear = append(out.AccountShareByYear, yearShares(year, ordered, yearAccounts)...)
	}
}

// yearShares normalizes distinct counts to 100 within the year. Buckets seen
// in any year appear with a zero share in years where they are absent.
func yearShares(year string, buckets []arr.Bucket, members map[yearKey]set) []types.YearARRShare {
	total := 0
	for _, bucket := range buckets {
		total += len(members[yearKey{year: year, bucket: bucket}])
	}
	out := make([]types.YearARRShare, 0, len(buckets))
	for _, bucket := range buckets {
		n := len(members[yearKey{year: year, bucket: bucket}])
		out = append(out, types.YearARRShare{
			Year: year, Bucket: bucket, Count: n, Percent: stats.Percent(n, total, sharePlaces),
		})
	}
	return out
}

func orderedBuckets(present map[arr.Bucket]struct{}) []arr.Bucket {
	out := make([]arr.Bucket, 0, len(present))
	for _, bucket := range arr.Ordered() {
		if _, ok := present[bucket]; ok {
			out = append(out, bucket)
		}
	}
	return out
}

func enriched(rows []types.SurveyPurchaseRecord) ([]types.SurveyPurchaseRecord, error) {
	complete := true
	for i := range rows {
		if rows[i].HalfYearPeriod == "" || rows[i].ARRBucket == "" || rows[i].PurchaseYear == "" {
			complete = false
			break
		}
	}
	if complete {
		return rows, nil
	}
	out := make([]types.SurveyPurchaseRecord, len(rows))
	copy(out, rows)
	for i := range out {
		if err := out[i].Enrich(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
