package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// tailIndex returns ceil(alpha*t) clamped to [1, t]: the number of observations in the tail.
func tailIndex(t int, alpha float64) int {
	m := int(math.Ceil(alpha*float64(t) - 1e-9))
	if m < 1 {
		m = 1
	}
	if m > t {
		m = t
	}
	return m
}

// cvarWeights are the OWA weights of historical CVaR over losses sorted descending.
func cvarWeights(t int, alpha float64) []float64 {
	w := make([]float64, t)
	m := tailIndex(t, alpha)
	at := alpha * float64(t)
	for i := 0; i < m-1; i++ {
		w[i] = 1 / at
	}
	w[m-1] = 1 - float64(m-1)/at
	return w
}

// tailGiniWeights combine CVaR weights at sims evenly spaced levels in (0, alpha]
// with trapezoidal quadrature weights.
func tailGiniWeights(t int, alpha float64, sims int) []float64 {
	levels := make([]float64, sims)
	for k := range levels {
		levels[k] = alpha * float64(k+1) / float64(sims)
	}
	quad := make([]float64, sims)
	if sims == 1 {
		quad[0] = 1
	} else {
		for k := range quad {
			switch k {
			case 0:
				quad[k] = (levels[1] - levels[0]) / 2
			case sims - 1:
				quad[k] = (levels[k] - levels[k-1]) / 2
			default:
				quad[k] = (levels[k+1] - levels[k-1]) / 2
			}
		}
		total := 0.0
		for _, q := range quad {
			total += q
		}
		for k := range quad {
			quad[k] /= total
		}
	}

	w := make([]float64, t)
	for k, level := range levels {
		for i, v := range cvarWeights(t, level) {
			w[i] += quad[k] * v
		}
	}
	return w
}

// sortedDescending returns a sorted copy, largest first.
func sortedDescending(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// orderedWeightedAverage applies OWA weights to x sorted descending.
func orderedWeightedAverage(x []float64, weights []float64) float64 {
	return dot(weights, sortedDescending(x))
}

// valueAtRisk is the historical alpha-quantile of losses.
func valueAtRisk(losses []float64, alpha float64) float64 {
	sorted := sortedDescending(losses)
	return sorted[tailIndex(len(losses), alpha)-1]
}

func negate(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = -v
	}
	return out
}

func maxOf(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if v > m {
			m = v
		}
	}
	return m
}

// entropicValueAtRisk solves min_{z>0} z·ln(mean(exp(L/z))/alpha) over u = ln z. The
// search starts from z at the loss scale; when it does not converge a golden-section
// search over a bracket of z takes over, and the better finite value is kept.
func entropicValueAtRisk(losses []float64, alpha float64) (float64, error) {
	scale := 0.0
	for _, v := range losses {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		return 0, nil
	}

	lnT := math.Log(float64(len(losses)))
	lnAlpha := math.Log(alpha)
	objective := func(u float64) float64 {
		z := math.Exp(u)
		return z * (logSumExp(losses, 1/z) - lnT - lnAlpha)
	}

	_, value, err := formulas.MinimizeScalar(objective, math.Log(scale))
	if err != nil {
		_, bracketed := formulas.GoldenSection(objective, math.Log(scale*1e-6), math.Log(scale*1e4), 1e-10)
		switch {
		case finiteValue(bracketed) && (!finiteValue(value) || bracketed < value):
			value = bracketed
		case !finiteValue(value):
			return 0, fmt.Errorf("%w: entropic search: %v", domain.ErrNonConvergence, err)
		}
	}
	// The z -> 0 limit is the worst loss, which the search may only approach.
	return math.Min(value, maxOf(losses)), nil
}

func finiteValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// logSumExp returns ln(Σ exp(k·x)) computed stably.
func logSumExp(x []float64, k float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if k*v > m {
			m = k * v
		}
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Exp(k*v - m)
	}
	return m + math.Log(sum)
}
