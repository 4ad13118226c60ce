// Package domain provides the core value types shared by the allocation engine.
package domain

import (
	"fmt"
	"math"
	"sort"
)

// BudgetTolerance is the tolerance used when checking weight budgets.
const BudgetTolerance = 1e-6

// Budget holds the long and short exposure of a portfolio.
type Budget struct {
	Long  float64 `json:"long" msgpack:"long"`
	Short float64 `json:"short" msgpack:"short"`
}

// DefaultBudget is a fully invested long-only budget.
func DefaultBudget() Budget {
	return Budget{Long: 1}
}

// Validate checks the budget is usable.
func (b Budget) Validate() error {
	if !(b.Long > 0) || math.IsInf(b.Long, 0) {
		return fmt.Errorf("%w: long budget must be positive, got %v", ErrInvalidConfiguration, b.Long)
	}
	if b.Short < 0 || math.IsNaN(b.Short) || math.IsInf(b.Short, 0) {
		return fmt.Errorf("%w: short budget must be non-negative, got %v", ErrInvalidConfiguration, b.Short)
	}
	return nil
}

// Net returns the net exposure, long minus short.
func (b Budget) Net() float64 {
	return b.Long - b.Short
}

// AllowsShort reports whether the budget carries a short book.
func (b Budget) AllowsShort() bool {
	return b.Short > 0
}

// Weights maps assets to signed weights, in a fixed asset order.
type Weights struct {
	Assets []string  `json:"assets" msgpack:"assets"`
	Values []float64 `json:"values" msgpack:"values"`
}

// NewWeights pairs asset identifiers with values.
func NewWeights(assets []string, values []float64) (Weights, error) {
	if len(assets) != len(values) {
		return Weights{}, fmt.Errorf("%w: %d weights for %d assets", ErrInvalidConfiguration, len(values), len(assets))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, fmt.Errorf("%w: non-finite weight for %s", ErrInvalidConfiguration, assets[i])
		}
	}
	a := make([]string, len(assets))
	copy(a, assets)
	v := make([]float64, len(values))
	copy(v, values)
	return Weights{Assets: a, Values: v}, nil
}

// Len returns the number of assets.
func (w Weights) Len() int {
	return len(w.Values)
}

// Get returns the weight of an asset (0 when absent).
func (w Weights) Get(asset string) float64 {
	for i, a := range w.Assets {
		if a == asset {
			return w.Values[i]
		}
	}
	return 0
}

// Map returns the weights keyed by asset.
func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, len(w.Assets))
	for i, a := range w.Assets {
		out[a] = w.Values[i]
	}
	return out
}

// Long returns the sum of positive weights.
func (w Weights) Long() float64 {
	sum := 0.0
	for _, v := range w.Values {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

// Short returns the sum of the magnitudes of negative weights.
func (w Weights) Short() float64 {
	sum := 0.0
	for _, v := range w.Values {
		if v < 0 {
			sum -= v
		}
	}
	return sum
}

// CheckBudget verifies the long and short books against a budget.
func (w Weights) CheckBudget(b Budget) error {
	if math.Abs(w.Long()-b.Long) > BudgetTolerance*math.Max(1, b.Long) {
		return fmt.Errorf("long book %.8f does not match budget %.8f", w.Long(), b.Long)
	}
	if math.Abs(w.Short()-b.Short) > BudgetTolerance*math.Max(1, b.Short) {
		return fmt.Errorf("short book %.8f does not match budget %.8f", w.Short(), b.Short)
	}
	return nil
}

// Reorder returns the weights in the given asset order.
func (w Weights) Reorder(assets []string) (Weights, error) {
	m := w.Map()
	values := make([]float64, len(assets))
	for i, a := range assets {
		v, ok := m[a]
		if !ok {
			return Weights{}, fmt.Errorf("%w: asset %q not in weights", ErrInvalidConfiguration, a)
		}
		values[i] = v
	}
	return NewWeights(assets, values)
}

// Sorted returns the weights sorted by descending value, ties broken by asset id.
func (w Weights) Sorted() Weights {
	idx := make([]int, len(w.Values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := w.Values[idx[a]], w.Values[idx[b]]
		if va != vb {
			return va > vb
		}
		return w.Assets[idx[a]] < w.Assets[idx[b]]
	})
	out := Weights{Assets: make([]string, len(idx)), Values: make([]float64, len(idx))}
	for k, i := range idx {
		out.Assets[k] = w.Assets[i]
		out.Values[k] = w.Values[i]
	}
	return out
}

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// FrontierPoint is one portfolio on an efficient frontier.
type FrontierPoint struct {
	Risk    float64 `json:"risk" msgpack:"risk"`
	Return  float64 `json:"return" msgpack:"return"`
	Weights Weights `json:"weights" msgpack:"weights"`
}
