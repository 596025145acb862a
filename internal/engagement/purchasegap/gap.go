package purchasegap

import (
	"sort"
	"time"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
)

const day = 24 * time.Hour

// Compute returns one PurchaseGapRecord per input row, ordered by maker,
// account and purchase day. The gap is the whole number of days since the
// previous purchase of the same (account, maker) pair and is left undefined
// for the first purchase of the pair and whenever the previous purchase was
// in another calendar year. Input is not modified.
func Compute(rows []types.SurveyPurchaseRecord) []types.PurchaseGapRecord {
	out := make([]types.PurchaseGapRecord, len(rows))
	for i := range rows {
		out[i] = types.PurchaseGapRecord{SurveyPurchaseRecord: rows[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MakerID != b.MakerID {
			return a.MakerID < b.MakerID
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		return a.PurchaseDay.Before(b.PurchaseDay)
	})

	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], &out[i]
		if prev.MakerID != cur.MakerID || prev.AccountID != cur.AccountID {
			continue
		}
		if prev.PurchaseDay.Year() != cur.PurchaseDay.Year() {
			continue
		}
		gap := wholeDays(prev.PurchaseDay, cur.PurchaseDay)
		cur.DaysSincePreviousPurchase = &gap
	}
	return out
}

func wholeDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / day)
}
