package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// variance is the sample variance (T-1 denominator).
func variance(r []float64) float64 {
	return stat.Variance(r, nil)
}

// meanAbsoluteDeviation is the mean absolute deviation around the sample mean.
func meanAbsoluteDeviation(r []float64) float64 {
	m := stat.Mean(r, nil)
	sum := 0.0
	for _, v := range r {
		sum += math.Abs(v - m)
	}
	return sum / float64(len(r))
}

// giniMeanDifferenceWeights are the OWA weights of the Gini mean difference over
// returns sorted ascending.
func giniMeanDifferenceWeights(t int) []float64 {
	w := make([]float64, t)
	scale := 2.0 / float64(t*(t-1))
	for i := range w {
		w[i] = scale * float64(2*(i+1)-1-t)
	}
	return w
}

// giniMeanDifference is the mean absolute difference between pairs of observations.
func giniMeanDifference(r []float64, weights []float64) float64 {
	sorted := make([]float64, len(r))
	copy(sorted, r)
	sort.Float64s(sorted)
	return dot(weights, sorted)
}

// semiDeviation is the square root of the second moment below the sample mean.
func semiDeviation(r []float64) float64 {
	m := stat.Mean(r, nil)
	sum := 0.0
	for _, v := range r {
		if d := m - v; d > 0 {
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(r)-1))
}

// lowerPartialMoment of order one or two below a threshold. Order two is square-rooted.
func lowerPartialMoment(r []float64, threshold float64, order int) float64 {
	sum := 0.0
	for _, v := range r {
		if d := threshold - v; d > 0 {
			if order == 1 {
				sum += d
			} else {
				sum += d * d
			}
		}
	}
	if order == 1 {
		return sum / float64(len(r))
	}
	return math.Sqrt(sum / float64(len(r)-1))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
