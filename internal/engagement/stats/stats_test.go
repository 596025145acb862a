package stats

import (
	"math"
	"testing"
)

func TestRoundHalfToEven(t *testing.T) {
	tests := []struct {
		value  float64
		places int32
		want   float64
	}{
		{value: 2.5, places: 0, want: 2},
		{value: 3.5, places: 0, want: 4},
		{value: 12.345, places: 2, want: 12.34},
		{value: 12.355, places: 2, want: 12.36},
		{value: 33.33333, places: 1, want: 33.3},
		{value: -1.5, places: 0, want: -2},
	}
	for _, tt := range tests {
		if got := Round(tt.value, tt.places); got != tt.want {
			t.Fatalf("Round(%v, %d) = %v, want %v", tt.value, tt.places, got, tt.want)
		}
	}
}

func TestMean(t *testing.T) {
	if _, ok := Mean(nil); ok {
		t.Fatal("mean of empty input must report false")
	}
	got, ok := RoundedMean([]float64{10, 11, 12.5}, 2)
	if !ok || got != 11.17 {
		t.Fatalf("RoundedMean = %v %v", got, ok)
	}
	first, _ := Mean([]float64{0.1, 0.2, 0.3})
	second, _ := Mean([]float64{0.1, 0.2, 0.3})
	if first != second {
		t.Fatal("mean is not deterministic")
	}
}

func TestNonFiniteValuesDoNotPanic(t *testing.T) {
	for _, v := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if got := Round(v, 2); got != 0 {
			t.Fatalf("Round(%v) = %v, want 0", v, got)
		}
	}
	got, ok := Mean([]float64{math.Inf(1), 4, math.NaN(), 6})
	if !ok || got != 5 {
		t.Fatalf("Mean over finite values = %v %v, want 5 true", got, ok)
	}
	if _, ok := Mean([]float64{math.NaN()}); ok {
		t.Fatal("mean with no finite values must report false")
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(1, 3, 1); got != 33.3 {
		t.Fatalf("Percent(1,3) = %v", got)
	}
	if got := Percent(2, 3, 1); got != 66.7 {
		t.Fatalf("Percent(2,3) = %v", got)
	}
	if got := Percent(5, 0, 1); got != 0 {
		t.Fatalf("Percent with zero total = %v", got)
	}
}
