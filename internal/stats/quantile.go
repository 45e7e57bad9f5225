// Package stats holds the small numeric helpers shared by the aggregation
// engine and the detectors.
package stats

import (
	"math"
	"sort"
)

// Quantile returns the q-th quantile (0 <= q <= 1) of values using linear
// interpolation between the closest ranks, the same convention as numpy's
// default. ok is false when values is empty or q is out of range.
func Quantile(values []float64, q float64) (v float64, ok bool) {
	if len(values) == 0 || q < 0 || q > 1 || math.IsNaN(q) {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q), true
}

// Quantiles evaluates several quantiles with a single sort.
func Quantiles(values []float64, qs ...float64) ([]float64, bool) {
	if len(values) == 0 {
		return nil, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make([]float64, len(qs))
	for i, q := range qs {
		if q < 0 || q > 1 || math.IsNaN(q) {
			return nil, false
		}
		out[i] = quantileSorted(sorted, q)
	}
	return out, true
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Mean returns the arithmetic mean, or false for an empty slice.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), true
}
