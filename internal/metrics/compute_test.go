package metrics

import (
	"math"
	"testing"
)

func TestComputePopulationStddev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := computePopulationStddev(values, computeMean(values))
	if math.Abs(got-2.0) > 1e-12 {
		t.Errorf("expected 2.0, got %f", got)
	}
	if computePopulationStddev(nil, 0) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestComputeDownsideDeviation(t *testing.T) {
	got := computeDownsideDeviation([]float64{1, -3, 2, -4})
	want := math.Sqrt((9.0 + 16.0) / 2.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %f, got %f", want, got)
	}
	if computeDownsideDeviation([]float64{1, 2}) != 0 {
		t.Error("expected 0 with no negative values")
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}

	tests := []struct {
		p    float64
		want float64
	}{
		{0.0, 10},
		{0.5, 30},
		{0.9, 46},
		{1.0, 50},
	}
	for _, tt := range tests {
		if got := computePercentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("p=%v: expected %v, got %v", tt.p, tt.want, got)
		}
	}
	if computePercentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestComputeMaxDrawdown(t *testing.T) {
	// Peak 100, trough 50 → 50% drawdown.
	got := computeMaxDrawdown([]float64{0, 100, 80, 50, 120})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}

	if computeMaxDrawdown([]float64{1, 2, 3}) != 0 {
		t.Error("expected 0 for monotone curve")
	}
	if computeMaxDrawdown(nil) != 0 {
		t.Error("expected 0 for empty curve")
	}
}

func TestComputeVaR(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = float64(i - 5) // -5..34
	}

	// idx = 2 → VaR = -(-3) = 3, CVaR = -mean(-5, -4) = 4.5
	varValue, cvar := computeVaR(returns)
	if varValue != 3 {
		t.Errorf("expected VaR 3, got %f", varValue)
	}
	if cvar != 4.5 {
		t.Errorf("expected CVaR 4.5, got %f", cvar)
	}

	varValue, cvar = computeVaR([]float64{-1, 2})
	if varValue != 1 || cvar != 0 {
		t.Errorf("expected (1, 0) for short series, got (%f, %f)", varValue, cvar)
	}
}

func TestSafeDiv(t *testing.T) {
	if safeDiv(1, 0) != 0 {
		t.Error("expected 0 on zero denominator")
	}
	if safeDiv(1, 1e-12) != 0 {
		t.Error("expected 0 on tiny denominator")
	}
	if safeDiv(6, 3) != 2 {
		t.Error("expected 2")
	}
}
