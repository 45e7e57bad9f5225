package stats

import (
	"math"
	"testing"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		q      float64
		want   float64
	}{
		{"median odd", []float64{3, 1, 2}, 0.5, 2},
		{"median even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"min", []float64{5, 1, 9}, 0, 1},
		{"max", []float64{5, 1, 9}, 1, 9},
		{"spike threshold", []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 1000}, 0.95, 554.5},
		{"20th of tens", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, 0.2, 28},
		{"70th of tens", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, 0.7, 73},
		{"single", []float64{7}, 0.95, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Quantile(tt.values, tt.q)
			if !ok {
				t.Fatal("Quantile returned ok=false")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Quantile(%v, %v) = %v, want %v", tt.values, tt.q, got, tt.want)
			}
		})
	}
}

func TestQuantileRejectsBadInput(t *testing.T) {
	if _, ok := Quantile(nil, 0.5); ok {
		t.Error("Expected ok=false for empty input")
	}
	if _, ok := Quantile([]float64{1}, 1.5); ok {
		t.Error("Expected ok=false for q > 1")
	}
}

func TestQuantilesDoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	got, ok := Quantiles(values, 0, 1)
	if !ok || got[0] != 1 || got[1] != 3 {
		t.Errorf("Quantiles() = %v, %v", got, ok)
	}
	if values[0] != 3 {
		t.Error("Expected input slice to be left unsorted")
	}
}

func TestMean(t *testing.T) {
	if m, ok := Mean([]float64{1, 2, 3, 6}); !ok || m != 3 {
		t.Errorf("Mean() = %v, %v, want 3", m, ok)
	}
	if _, ok := Mean(nil); ok {
		t.Error("Expected ok=false for empty input")
	}
}
