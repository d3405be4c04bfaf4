package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	hundred := make([]float64, 100)
	for i := range hundred {
		hundred[i] = float64(i + 1)
	}

	tests := []struct {
		name   string
		sorted []float64
		f      float64
		want   float64
	}{
		{"empty", nil, 0.95, 0},
		{"single", []float64{5}, 0.99, 5},
		{"three p95 takes last", []float64{1, 2, 3}, 0.95, 3},
		{"ten p99 clamps to last", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.99, 10},
		{"ten p50", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.5, 6},
		{"hundred p95", hundred, 0.95, 96},
		{"hundred p99", hundred, 0.99, 100},
		{"f=1 clamps", []float64{1, 2}, 1.0, 2},
		{"f=0 first", []float64{1, 2}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile(tt.sorted, tt.f))
		})
	}
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}

func TestSortedCopy(t *testing.T) {
	in := []float64{3, 1, 2}
	out := SortedCopy(in)

	assert.Equal(t, []float64{1, 2, 3}, out)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}

func TestRate(t *testing.T) {
	assert.Equal(t, 100.0, Rate(1000, 10))
	assert.Equal(t, 0.0, Rate(1000, 0))
	assert.Equal(t, 0.0, Rate(1000, -1))
}

func TestRoundToTwoDecimals(t *testing.T) {
	assert.Equal(t, 1.23, roundToTwoDecimals(1.234))
	assert.Equal(t, 1.24, roundToTwoDecimals(1.235001))
}
