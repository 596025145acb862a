package types

import (
	"sort"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/period"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/stats"
)

// SortARRPeriodValues orders values by half-year, then bucket display order.
func SortARRPeriodValues(values []ARRPeriodValue) {
	sort.SliceStable(values, func(i, j int) bool {
		hi, _ := period.ParseHalfYear(values[i].HalfYear)
		hj, _ := period.ParseHalfYear(values[j].HalfYear)
		if hi != hj {
			return hi.Less(hj)
		}
		return values[i].Bucket.Rank() < values[j].Bucket.Rank()
	})
}

// BucketShares turns distinct counts per bucket into shares of their total.
// Buckets with a zero count are listed when present in the map.
func BucketShares(counts map[arr.Bucket]int, places int32) []ARRShare {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make([]ARRShare, 0, len(counts))
	for _, bucket := range arr.Ordered() {
		c, ok := counts[bucket]
		if !ok {
			continue
		}
		out = append(out, ARRShare{Bucket: bucket, Count: c, Percent: stats.Percent(c, total, places)})
	}
	return out
}
