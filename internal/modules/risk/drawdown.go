package risk

import "math"

// drawdowns returns the drawdown of each period (T values) from the cumulative path.
// The uncompounded path is the running sum of returns and drawdowns are absolute;
// the compounded path is the running product of (1+r) and drawdowns are relative to
// the running peak. Both paths start at the initial value before the first period.
func drawdowns(r []float64, compounded bool) []float64 {
	dd := make([]float64, len(r))
	if compounded {
		nav, peak := 1.0, 1.0
		for t, v := range r {
			nav *= 1 + v
			peak = math.Max(peak, nav)
			dd[t] = (peak - nav) / peak
		}
		return dd
	}
	level, peak := 0.0, 0.0
	for t, v := range r {
		level += v
		peak = math.Max(peak, level)
		dd[t] = peak - level
	}
	return dd
}

func averageOf(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func ulcerIndex(dd []float64) float64 {
	sum := 0.0
	for _, v := range dd {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(dd)))
}
