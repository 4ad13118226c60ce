package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// EqualWeight spreads the long budget evenly over the assets.
func EqualWeight(assets []string, long float64) (domain.Result, error) {
	if len(assets) == 0 {
		return domain.Result{}, fmt.Errorf("%w: no assets provided", domain.ErrInsufficientData)
	}
	if err := (domain.Budget{Long: long}).Validate(); err != nil {
		return domain.Result{}, err
	}
	w, err := domain.NewWeights(assets, equalWeights(len(assets), long))
	if err != nil {
		return domain.Result{}, err
	}
	return domain.Feasible(w), nil
}

// PropertyWeighted allocates the long budget in proportion to a non-negative property of
// each asset, such as its market capitalization.
func PropertyWeighted(assets []string, values []float64, long float64) (domain.Result, error) {
	if len(values) != len(assets) {
		return domain.Result{}, fmt.Errorf("%w: %d values for %d assets", domain.ErrInvalidConfiguration, len(values), len(assets))
	}
	if err := (domain.Budget{Long: long}).Validate(); err != nil {
		return domain.Result{}, err
	}
	for i, v := range values {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Result{}, fmt.Errorf("%w: property of %s must be finite and non-negative, got %v", domain.ErrInvalidConfiguration, assets[i], v)
		}
	}
	scaled, err := formulas.Normalize(values, long)
	if err != nil {
		return domain.InfeasibleResult(domain.ReasonDegenerate, "property values sum to zero"), nil
	}
	w, err := domain.NewWeights(assets, scaled)
	if err != nil {
		return domain.Result{}, err
	}
	return domain.Feasible(w), nil
}

// CategoryWeight is the total weight of one category.
type CategoryWeight struct {
	Category string  `json:"category" msgpack:"category"`
	Weight   float64 `json:"weight" msgpack:"weight"`
}

// AggregateByCategory sums weights per category, largest first. Assets without a
// category are grouped under "Other".
func AggregateByCategory(w domain.Weights, categories map[string]string) []CategoryWeight {
	totals := make(map[string]float64)
	for i, asset := range w.Assets {
		c, ok := categories[asset]
		if !ok || c == "" {
			c = "Other"
		}
		totals[c] += w.Values[i]
	}
	out := make([]CategoryWeight, 0, len(totals))
	for c, v := range totals {
		out = append(out, CategoryWeight{Category: c, Weight: v})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Weight != out[b].Weight {
			return out[a].Weight > out[b].Weight
		}
		return out[a].Category < out[b].Category
	})
	return out
}
