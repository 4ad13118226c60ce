// Package formulas holds small statistical helpers shared by the estimators and optimizers.
package formulas

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// SimpleReturns converts prices to percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func SimpleReturns(prices []float64) ([]float64, error) {
	if len(prices) < 2 {
		return nil, fmt.Errorf("need at least 2 prices, got %d", len(prices))
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			return nil, fmt.Errorf("non-positive price %v at %d", prices[i-1], i-1)
		}
		returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
	}
	return returns, nil
}

// CorrelationFromCovariance calculates the correlation matrix from a covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationFromCovariance(cov mat.Symmetric) (*mat.SymDense, error) {
	n := cov.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}

	sd := make([]float64, n)
	for i := range sd {
		v := cov.At(i, i)
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		sd[i] = math.Sqrt(v)
	}

	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		corr.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			val := cov.At(i, j) / (sd[i] * sd[j])
			corr.SetSym(i, j, math.Max(-1, math.Min(1, val)))
		}
	}
	return corr, nil
}

// StdDevs returns the square roots of the diagonal of a covariance matrix.
func StdDevs(cov mat.Symmetric) []float64 {
	n := cov.SymmetricDim()
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sqrt(math.Max(cov.At(i, i), 0))
	}
	return out
}

// Ranks returns the 1-based ranks of x, averaging the ranks of ties.
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Normalize scales x so that its entries sum to total. It returns an error when the
// entries sum to zero.
func Normalize(x []float64, total float64) ([]float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	if sum == 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("cannot normalize a vector summing to %v", sum)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * total / sum
	}
	return out, nil
}
