package interaction

import (
	"sort"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/stats"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
)

const (
	minEngagedMinutes     = 5.0
	minUniqueInteractions = 5

	engagedTimePlaces = 0
	daysEngagedPlaces = 2
	sharePlaces       = 1
)

// IsActive reports whether the maker met the engagement threshold that month.
func IsActive(r types.InteractionRecord) bool {
	return r.TotalEngagedTimeMinutes >= minEngagedMinutes && r.NumUniqueInteractions >= minUniqueInteractions
}

// IsGenericActive counts any active maker with a generic or results interaction.
func IsGenericActive(r types.InteractionRecord) bool {
	return IsActive(r) && (r.IsGenericActiveMaker || r.IsResultsActiveMaker)
}

// IsResultsActive counts active makers who interacted with results pages.
func IsResultsActive(r types.InteractionRecord) bool {
	return IsActive(r) && r.IsResultsActiveMaker
}

type monthAcc struct {
	makers  map[string]struct{}
	generic map[string]struct{}
	results map[string]struct{}
	minutes []float64
	days    []float64
}

type arrKey struct {
	bucket   arr.Bucket
	halfYear string
}

type arrAcc struct {
	makers   map[string]struct{}
	accounts map[string]struct{}
	minutes  []float64
	days     []float64
}

// Aggregate derives every interaction table from rows already restricted to
// the selected range. ARR tables use only rows inside window; when that leaves
// nothing they use all rows and the advisory records the fallback. Rows whose
// derived fields are missing are enriched on a copy; a malformed month fails.
func Aggregate(rows []types.InteractionRecord, window period.Window) (*types.InteractionMetrics, error) {
	out := &types.InteractionMetrics{
		ActiveMakers:     []types.MonthlyActiveMakers{},
		EngagedTime:      []types.MonthlyValue{},
		EngagedTimeByARR: []types.ARRPeriodValue{},
		DaysEngaged:      []types.MonthlyValue{},
		DaysEngagedByARR: []types.ARRPeriodValue{},
		MakerShareByARR:  []types.ARRShare{},
		HalfYearOrder:    []string{},
		Advisory:         types.Advisory{ARRWindow: window},
	}
	if len(rows) == 0 {
		return out, nil
	}

	rows, err := enriched(rows)
	if err != nil {
		return nil, err
	}
	aggregateMonthly(out, rows)

	arrRows := make([]types.InteractionRecord, 0, len(rows))
	for _, r := range rows {
		if window.Contains(r.EngagedMonth) {
			arrRows = append(arrRows, r)
		}
	}
	if len(arrRows) == 0 {
		arrRows = rows
		out.Advisory.PartialPeriodFallback = true
	}
	aggregateByARR(out, arrRows)
	return out, nil
}

func aggregateMonthly(out *types.InteractionMetrics, rows []types.InteractionRecord) {
	months := map[string]*monthAcc{}
	activeMakers := map[string]struct{}{}
	resultsMakers := map[string]struct{}{}

	for _, r := range rows {
		acc, ok := months[r.EngagedMonth]
		if !ok {
			acc = &monthAcc{
				makers:  map[string]struct{}{},
				generic: map[string]struct{}{},
				results: map[string]struct{}{},
			}
			months[r.EngagedMonth] = acc
		}
		acc.makers[r.MakerID] = struct{}{}
		if !IsActive(r) {
			continue
		}
		if stats.Finite(r.TotalEngagedTimeMinutes) {
			acc.minutes = append(acc.minutes, r.TotalEngagedTimeMinutes)
		}
		acc.days = append(acc.days, float64(r.EngagedDays))
		activeMakers[r.MakerID] = struct{}{}
		if IsGenericActive(r) {
			acc.generic[r.MakerID] = struct{}{}
		}
		if IsResultsActive(r) {
			acc.results[r.MakerID] = struct{}{}
			resultsMakers[r.MakerID] = struct{}{}
		}
	}

	for _, month := range sortedKeys(months) {
		acc := months[month]
		out.ActiveMakers = append(out.ActiveMakers, types.MonthlyActiveMakers{
			Month:            month,
			TotalMakers:      len(acc.makers),
			GenericActive:    len(acc.generic),
			ResultsActive:    len(acc.results),
			NonResultsActive: len(acc.generic) - len(acc.results),
		})
		if minutes, ok := stats.RoundedMean(acc.minutes, engagedTimePlaces); ok {
			out.EngagedTime = append(out.EngagedTime, types.MonthlyValue{Month: month, Value: minutes, Observations: len(acc.minutes)})
		}
		if days, ok := stats.RoundedMean(acc.days, daysEngagedPlaces); ok {
			out.DaysEngaged = append(out.DaysEngaged, types.MonthlyValue{Month: month, Value: days, Observations: len(acc.days)})
		}
	}
	out.Summary = types.InteractionSummary{
		ActiveMakers:        len(activeMakers),
		ActiveResultsMakers: len(resultsMakers),
	}
}

func aggregateByARR(out *types.InteractionMetrics, rows []types.InteractionRecord) {
	groups := map[arrKey]*arrAcc{}
	bucketMakers := map[arr.Bucket]map[string]struct{}{}
	labels := make([]string, 0, len(rows))

	for _, r := range rows {
		if !IsActive(r) {
			continue
		}
		key := arrKey{bucket: r.ARRBucket, halfYear: r.HalfYearPeriod}
		acc, ok := groups[key]
		if !ok {
			acc = &arrAcc{makers: map[string]struct{}{}, accounts: map[string]struct{}{}}
			groups[key] = acc
		}
		acc.makers[r.MakerID] = struct{}{}
		acc.accounts[r.AccountID] = struct{}{}
		if stats.Finite(r.TotalEngagedTimeMinutes) {
			acc.minutes = append(acc.minutes, r.TotalEngagedTimeMinutes)
		}
		acc.days = append(acc.days, float64(r.EngagedDays))

		if bucketMakers[r.ARRBucket] == nil {
			bucketMakers[r.ARRBucket] = map[string]struct{}{}
		}
		bucketMakers[r.ARRBucket][r.MakerID] = struct{}{}
		labels = append(labels, r.HalfYearPeriod)
	}

	for key, acc := range groups {
		minutes, _ := stats.RoundedMean(acc.minutes, engagedTimePlaces)
		days, _ := stats.RoundedMean(acc.days, daysEngagedPlaces)
		out.EngagedTimeByARR = append(out.EngagedTimeByARR, types.ARRPeriodValue{
			Bucket: key.bucket, HalfYear: key.halfYear, Value: minutes,
			Makers: len(acc.makers), Accounts: len(acc.accounts),
		})
		out.DaysEngagedByARR = append(out.DaysEngagedByARR, types.ARRPeriodValue{
			Bucket: key.bucket, HalfYear: key.halfYear, Value: days,
			Makers: len(acc.makers), Accounts: len(acc.accounts),
		})
	}
	types.SortARRPeriodValues(out.EngagedTimeByARR)
	types.SortARRPeriodValues(out.DaysEngagedByARR)

	counts := make(map[arr.Bucket]int, len(bucketMakers))
	for bucket, makers := range bucketMakers {
		counts[bucket] = len(makers)
	}
	out.MakerShareByARR = types.BucketShares(counts, sharePlaces)

	if ordered, err := period.OrderedHalfYears(labels); err == nil {
		out.HalfYearOrder = ordered
	}
}

// enriched returns rows with derived fields filled, copying only when needed.
func enriched(rows []types.InteractionRecord) ([]types.InteractionRecord, error) {
	complete := true
	for i := range rows {
		if rows[i].HalfYearPeriod == "" || rows[i].ARRBucket == "" {
			complete = false
			break
		}
	}
	if complete {
		return rows, nil
	}
	out := make([]types.InteractionRecord, len(rows))
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
