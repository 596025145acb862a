package stats

import (
	"math"

	"github.com/shopspring/decimal"
)

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round rounds half to even at the given number of decimal places. Non-finite
// values round to 0.
func Round(value float64, places int32) float64 {
	if !Finite(value) {
		return 0
	}
	out, _ := decimal.NewFromFloat(value).RoundBank(places).Float64()
	return out
}

// Mean returns the arithmetic mean of the finite values and false when there
// are none.
func Mean(values []float64) (float64, bool) {
	sum := decimal.Zero
	n := 0
	for _, v := range values {
		if !Finite(v) {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(v))
		n++
	}
	if n == 0 {
		return 0, false
	}
	out, _ := sum.Div(decimal.NewFromInt(int64(n))).Float64()
	return out, true
}

// RoundedMean is Mean followed by Round.
func RoundedMean(values []float64, places int32) (float64, bool) {
	mean, ok := Mean(values)
	if !ok {
		return 0, false
	}
	return Round(mean, places), true
}

// Percent returns part/total*100 rounded to places, or 0 when total is 0.
func Percent(part, total int, places int32) float64 {
	if total == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total)))
	out, _ := pct.RoundBank(places).Float64()
	return out
}
