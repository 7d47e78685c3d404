package metrics

import (
	"math"
	"sort"
)

// epsilon guards ratio denominators.
const epsilon = 1e-10

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computePopulationStddev calculates the population standard deviation (n denominator).
func computePopulationStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n))
}

// computeDownsideDeviation is the root mean square of negative values only.
func computeDownsideDeviation(values []float64) float64 {
	sumSq := 0.0
	count := 0
	for _, v := range values {
		if v < 0 {
			sumSq += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(count))
}

// computeDiffs returns the step changes of a series.
func computeDiffs(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	diffs := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		diffs[i-1] = series[i] - series[i-1]
	}
	return diffs
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown returns the worst peak-to-trough decline of a P&L curve
// as a fraction of |peak|. The curve must be in chronological order.
func computeMaxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}

	peak := curve[0]
	maxDrawdown := 0.0
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		dd := (peak - v) / (math.Abs(peak) + epsilon)
		if dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeVaR returns the 95% historical value at risk and the mean loss beyond it.
// Both are reported as positive numbers for losses.
func computeVaR(returns []float64) (valueAtRisk, conditional float64) {
	n := len(returns)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(n) * 0.05)
	valueAtRisk = -sorted[idx]

	if idx == 0 {
		return valueAtRisk, 0
	}
	sum := 0.0
	for _, r := range sorted[:idx] {
		sum += r
	}
	return valueAtRisk, -sum / float64(idx)
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// safeDiv returns num/den, or 0 when |den| is below epsilon.
func safeDiv(num, den float64) float64 {
	if math.Abs(den) < epsilon {
		return 0
	}
	return num / den
}
