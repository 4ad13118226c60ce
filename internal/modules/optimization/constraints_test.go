package optimization

import (
	"math/rand/v2"
	"testing"

	"github.com/aristath/allocator/internal/domain"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

func TestBudgetMap_WeightsStayOnBudget(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	budgets := []domain.Budget{{Long: 1}, {Long: 1.3, Short: 0.3}, {Long: 1, Short: 1}}

	for _, budget := range budgets {
		bm := newBudgetMap(5, budget)
		for trial := 0; trial < 20; trial++ {
			x := make([]float64, bm.dim())
			for i := range x {
				x[i] = 3 * rng.NormFloat64()
			}
			w := bm.weights(x)
			// Net exposure is fixed whatever the overlap of the books.
			assert.InDelta(t, budget.Net(), floats.Sum(w), 1e-12)
			if !budget.AllowsShort() {
				assert.GreaterOrEqual(t, floats.Min(w), 0.0)
			}
		}
	}
}

func TestBudgetMap_PullbackMatchesFiniteDifferences(t *testing.T) {
	coef := []float64{1, 2, 3, 4}
	f := func(w []float64) float64 {
		s := 0.0
		for i, v := range w {
			s += coef[i] * v * v
		}
		return s
	}
	gradW := func(grad, w []float64) {
		for i, v := range w {
			grad[i] = 2 * coef[i] * v
		}
	}

	for _, budget := range []domain.Budget{{Long: 1}, {Long: 1.5, Short: 0.5}} {
		bm := newBudgetMap(4, budget)
		x := []float64{0.3, -0.2, 0.5, 0.1, -0.4, 0.2, 0, 0.7}[:bm.dim()]

		g := make([]float64, 4)
		gradW(g, bm.weights(x))
		analytic := make([]float64, bm.dim())
		bm.pullback(x, g, analytic)

		numeric := fd.Gradient(nil, func(x []float64) float64 { return f(bm.weights(x)) }, x, &fd.Settings{Formula: fd.Central})
		assert.InDeltaSlice(t, numeric, analytic, 1e-6)
	}
}

func TestBudgetMap_OverlapGradient(t *testing.T) {
	bm := newBudgetMap(3, domain.Budget{Long: 1, Short: 0.5})
	x := []float64{0.2, -0.1, 0.4, 0.3, 0.1, -0.6}

	analytic := make([]float64, 6)
	value := bm.overlap(x, analytic)
	assert.Greater(t, value, 0.0)

	numeric := fd.Gradient(nil, func(x []float64) float64 { return bm.overlap(x, nil) }, x, &fd.Settings{Formula: fd.Central})
	assert.InDeltaSlice(t, numeric, analytic, 1e-6)

	assert.Zero(t, newBudgetMap(3, domain.DefaultBudget()).overlap(x[:3], nil))
}

func TestBudgetMap_StartReproducesMixedWeights(t *testing.T) {
	bm := newBudgetMap(4, domain.DefaultBudget())
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, bm.weights(bm.start(nil)), 1e-15)

	w := bm.weights(bm.start([]float64{1, 0, 0, 0}))
	assert.InDeltaSlice(t, []float64{0.925, 0.025, 0.025, 0.025}, w, 1e-12)
}

func TestRepairBudget(t *testing.T) {
	tests := []struct {
		name   string
		w      []float64
		budget domain.Budget
		want   []float64
	}{
		{
			name:   "scales the long book",
			w:      []float64{0.2, 0.6},
			budget: domain.DefaultBudget(),
			want:   []float64{0.25, 0.75},
		},
		{
			name:   "clips shorts without a short budget",
			w:      []float64{0.5, -0.2, 0.5},
			budget: domain.DefaultBudget(),
			want:   []float64{0.5, 0, 0.5},
		},
		{
			name:   "scales both books",
			w:      []float64{0.5, -0.1, 0.5, -0.3},
			budget: domain.Budget{Long: 1.2, Short: 0.2},
			want:   []float64{0.6, -0.05, 0.6, -0.15},
		},
		{
			name:   "creates a missing short book",
			w:      []float64{0.4, 0.1, 0.5},
			budget: domain.Budget{Long: 1, Short: 0.5},
			want:   []float64{0.4 / 0.9, -0.5, 0.5 / 0.9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repairBudget(tt.w, tt.budget)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)

			weights, err := domain.NewWeights([]string{"A", "B", "C", "D"}[:len(got)], got)
			assert.NoError(t, err)
			assert.NoError(t, weights.CheckBudget(tt.budget))
		})
	}
}

func TestMaxReturnPortfolio(t *testing.T) {
	w, ret := maxReturnPortfolio([]float64{0.01, 0.03, 0.03, -0.02}, domain.DefaultBudget())
	assert.Equal(t, []float64{0, 0.5, 0.5, 0}, w)
	assert.InDelta(t, 0.03, ret, 1e-15)

	w, ret = maxReturnPortfolio([]float64{0.01, 0.03, 0.02, -0.02}, domain.Budget{Long: 1.5, Short: 0.5})
	assert.Equal(t, []float64{0, 1.5, 0, -0.5}, w)
	assert.InDelta(t, 0.055, ret, 1e-15)

	// Equal means still leave room for a short book.
	w, _ = maxReturnPortfolio([]float64{0.01, 0.01}, domain.Budget{Long: 1, Short: 1})
	assert.Equal(t, []float64{1, -1}, w)
}
