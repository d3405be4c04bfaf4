package utils

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile returns the nearest-rank percentile of sorted (ascending):
// the element at zero-based index floor(f*len), clamped to the last index.
// No interpolation is done.
func Percentile(sorted []float64, f float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(f * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// SortedCopy returns an ascending copy of values.
func SortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Rate divides n by seconds, yielding 0 when seconds is not positive.
func Rate(n float64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return n / seconds
}

func roundToTwoDecimals(f float64) float64 {
	return math.Round(f*100) / 100
}
