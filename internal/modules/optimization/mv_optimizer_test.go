package optimization

import (
	"math"
	"testing"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func newTestMeanRisk() *MeanRiskOptimizer {
	return NewMeanRiskOptimizer(estimation.NewEstimator(zerolog.Nop()), zerolog.Nop())
}

func mustWeights(t *testing.T, res domain.Result) []float64 {
	t.Helper()
	w, ok := res.Weights()
	require.True(t, ok, "expected a feasible result, got %s", res)
	return w.Values
}

func mustConfig(t *testing.T, spec risk.Spec, obj Objective, opts ...MeanRiskOption) MeanRiskConfig {
	t.Helper()
	cfg, err := NewMeanRiskConfig(spec, obj, opts...)
	require.NoError(t, err)
	return cfg
}

// uncorrelatedPair returns two zero-mean, uncorrelated series whose variances are in the
// ratio 1:4.
func uncorrelatedPair(t *testing.T) domain.ReturnSeries {
	c := 0.01
	return testutil.NewSeries(t, []string{"LOW", "HIGH"}, [][]float64{
		{c, 2 * c},
		{-c, 2 * c},
		{c, -2 * c},
		{-c, -2 * c},
	})
}

func sampleMeans(returns domain.ReturnSeries) []float64 {
	mu := make([]float64, returns.N())
	for j := range mu {
		mu[j] = stat.Mean(returns.Column(j), nil)
	}
	return mu
}

func TestParseObjective(t *testing.T) {
	for _, o := range []Objective{MinRisk, Utility, Sharpe, MaxRet, ERC} {
		parsed, err := ParseObjective(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
		assert.NotEmpty(t, o.DisplayName())
	}
	_, err := ParseObjective("MaxSortino")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestMeanRiskConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		spec risk.Spec
		obj  Objective
		opts []MeanRiskOption
	}{
		{"value at risk cannot be optimized", risk.MustSpec(risk.ValueAtRisk), MinRisk, nil},
		{"compounded drawdown at risk", risk.MustSpec(risk.DrawdownAtRiskRel), MinRisk, nil},
		{"equal risk contribution needs risk parity", risk.MustSpec(risk.Variance), ERC, nil},
		{"unknown objective", risk.MustSpec(risk.Variance), Objective(42), nil},
		{"risk aversion must be positive", risk.MustSpec(risk.Variance), Utility, []MeanRiskOption{WithRiskAversion(0)}},
		{"long budget must be positive", risk.MustSpec(risk.Variance), MinRisk, []MeanRiskOption{WithBudget(domain.Budget{})}},
		{"target risk must be positive", risk.MustSpec(risk.Variance), MaxRet, []MeanRiskOption{WithTargetRisk(-0.1)}},
		{"decay factor in range", risk.MustSpec(risk.Variance), MinRisk, []MeanRiskOption{WithDecayFactor(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMeanRiskConfig(tt.spec, tt.obj, tt.opts...)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestMeanRisk_IdenticalAssetsGetEqualWeights(t *testing.T) {
	base := testutil.NewReturnFixture(t, 1, 120, 5).Column(0)
	returns, err := domain.NewReturnSeriesFromColumns([]string{"A", "B", "C", "D"}, [][]float64{base, base, base, base})
	require.NoError(t, err)

	for _, m := range []risk.Measure{risk.Variance, risk.MeanAbsoluteDeviation, risk.ConditionalValueAtRisk} {
		t.Run(m.String(), func(t *testing.T) {
			res, err := newTestMeanRisk().Optimize(returns, mustConfig(t, risk.MustSpec(m), MinRisk))
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, mustWeights(t, res), 1e-6)
		})
	}
}

func TestMeanRisk_MinimumVarianceOfUncorrelatedPair(t *testing.T) {
	res, err := newTestMeanRisk().Optimize(uncorrelatedPair(t), mustConfig(t, risk.MustSpec(risk.Variance), MinRisk))
	require.NoError(t, err)
	// Inverse variance weights: 1/1 against 1/4.
	assert.InDeltaSlice(t, []float64{0.8, 0.2}, mustWeights(t, res), 1e-5)
}

func TestMeanRisk_BudgetsAndSigns(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 5, 250, 21)
	opt := newTestMeanRisk()

	for _, m := range []risk.Measure{risk.Variance, risk.MeanAbsoluteDeviation, risk.ConditionalValueAtRisk, risk.ConditionalDrawdownAtRisk} {
		for _, obj := range []Objective{MinRisk, Utility, Sharpe} {
			t.Run(m.String()+"/"+obj.String(), func(t *testing.T) {
				res, err := opt.Optimize(returns, mustConfig(t, risk.MustSpec(m), obj))
				require.NoError(t, err)
				w := mustWeights(t, res)
				assert.InDelta(t, 1.0, floats.Sum(w), domain.BudgetTolerance)
				assert.GreaterOrEqual(t, floats.Min(w), 0.0)
			})
		}
	}

	t.Run("long short", func(t *testing.T) {
		budget := domain.Budget{Long: 1.3, Short: 0.3}
		res, err := opt.Optimize(returns, mustConfig(t, risk.MustSpec(risk.Variance), MinRisk, WithBudget(budget)))
		require.NoError(t, err)
		w, ok := res.Weights()
		require.True(t, ok)
		assert.NoError(t, w.CheckBudget(budget))
	})
}

func TestMeanRisk_TargetReturn(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 250, 13)
	mu := sampleMeans(returns)
	opt := newTestMeanRisk()
	spec := risk.MustSpec(risk.Variance)

	t.Run("above the best asset is infeasible", func(t *testing.T) {
		res, err := opt.Optimize(returns, mustConfig(t, spec, MinRisk, WithTargetReturn(floats.Max(mu)*1.01+1e-6)))
		require.NoError(t, err)
		inf, ok := res.Infeasibility()
		require.True(t, ok)
		assert.Equal(t, domain.ReasonConstraints, inf.Reason)
	})

	t.Run("reachable target is met", func(t *testing.T) {
		free, err := opt.Solve(returns, mustConfig(t, spec, MinRisk))
		require.NoError(t, err)
		target := 0.5 * (free.Return + floats.Max(mu))

		sol, err := opt.Solve(returns, mustConfig(t, spec, MinRisk, WithTargetReturn(target)))
		require.NoError(t, err)
		require.True(t, sol.Result.IsFeasible())
		assert.GreaterOrEqual(t, sol.Return, target-1e-9)
		assert.GreaterOrEqual(t, sol.Risk, free.Risk-1e-12)
	})
}

func TestMeanRisk_TargetRisk(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 250, 13)
	opt := newTestMeanRisk()
	spec := risk.MustSpec(risk.Variance)

	free, err := opt.Solve(returns, mustConfig(t, spec, MinRisk))
	require.NoError(t, err)
	minStd := math.Sqrt(free.Risk)

	sol, err := opt.Solve(returns, mustConfig(t, spec, MaxRet, WithTargetRisk(1.2*minStd)))
	require.NoError(t, err)
	require.True(t, sol.Result.IsFeasible())
	assert.LessOrEqual(t, math.Sqrt(sol.Risk), 1.2*minStd*(1+1e-6))
	assert.Greater(t, sol.Return, free.Return)

	res, err := opt.Optimize(returns, mustConfig(t, spec, MaxRet, WithTargetRisk(0.5*minStd)))
	require.NoError(t, err)
	inf, ok := res.Infeasibility()
	require.True(t, ok)
	assert.Equal(t, domain.ReasonConstraints, inf.Reason)
}

func TestMeanRisk_MaxReturnIsClosedForm(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 100, 3)
	mu := sampleMeans(returns)

	res, err := newTestMeanRisk().Optimize(returns, mustConfig(t, risk.MustSpec(risk.ConditionalValueAtRisk), MaxRet))
	require.NoError(t, err)
	w := mustWeights(t, res)
	want := make([]float64, 4)
	want[floats.MaxIdx(mu)] = 1
	assert.Equal(t, want, w)
}

func TestMeanRisk_SharpeMatchesGridSearch(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 3, 300, 29)
	mu := sampleMeans(returns)
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, returns.Matrix(), nil)
	ratio := func(w []float64) float64 {
		x := mat.NewVecDense(3, w)
		return floats.Dot(w, mu) / math.Sqrt(mat.Inner(x, cov, x))
	}

	best := math.Inf(-1)
	for i := 0; i <= 100; i++ {
		for j := 0; i+j <= 100; j++ {
			w := []float64{float64(i) / 100, float64(j) / 100, float64(100-i-j) / 100}
			best = math.Max(best, ratio(w))
		}
	}

	res, err := newTestMeanRisk().Optimize(returns, mustConfig(t, risk.MustSpec(risk.Variance), Sharpe))
	require.NoError(t, err)
	got := ratio(mustWeights(t, res))
	assert.GreaterOrEqual(t, got, best-1e-6*math.Abs(best))
	assert.InEpsilon(t, best, got, 1e-3)
}

func TestMeanRisk_SharpeNeedsExcessReturn(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 3, 100, 1)
	mu := sampleMeans(returns)

	res, err := newTestMeanRisk().Optimize(returns, mustConfig(t, risk.MustSpec(risk.Variance), Sharpe, WithRiskFree(floats.Max(mu)+0.001)))
	require.NoError(t, err)
	inf, ok := res.Infeasibility()
	require.True(t, ok)
	assert.Equal(t, domain.ReasonConstraints, inf.Reason)
}

func TestMeanRisk_RoundTrip(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 200, 17)
	opt := newTestMeanRisk()

	for _, m := range []risk.Measure{risk.Variance, risk.MeanAbsoluteDeviation, risk.ConditionalValueAtRisk, risk.UlcerIndex} {
		t.Run(m.String(), func(t *testing.T) {
			spec := risk.MustSpec(m)
			sol, err := opt.Solve(returns, mustConfig(t, spec, MinRisk))
			require.NoError(t, err)
			w := mustWeights(t, sol.Result)

			recomputed, err := risk.Risk(w, returns, spec)
			require.NoError(t, err)
			assert.InEpsilon(t, recomputed, sol.Risk, 1e-9)
			assert.InEpsilon(t, sol.Risk, sol.SurrogateRisk, 1e-3)
		})
	}
}

func TestMeanRisk_CompoundedDrawdowns(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 200, 17)
	opt := newTestMeanRisk()
	equal := []float64{0.25, 0.25, 0.25, 0.25}

	measures := []risk.Measure{
		risk.MaxDrawdownRel, risk.AverageDrawdownRel, risk.ConditionalDrawdownAtRiskRel,
		risk.EntropicDrawdownAtRiskRel, risk.UlcerIndexRel,
	}
	for _, m := range measures {
		t.Run(m.String(), func(t *testing.T) {
			spec := risk.MustSpec(m)
			sol, err := opt.Solve(returns, mustConfig(t, spec, MinRisk))
			require.NoError(t, err)
			w := mustWeights(t, sol.Result)

			assert.InDelta(t, 1.0, floats.Sum(w), 1e-9)
			assert.GreaterOrEqual(t, floats.Min(w), 0.0)

			got, err := risk.Risk(w, returns, spec)
			require.NoError(t, err)
			naive, err := risk.Risk(equal, returns, spec)
			require.NoError(t, err)
			assert.LessOrEqual(t, got, naive*(1+1e-3))
			assert.InEpsilon(t, got, sol.Risk, 1e-9)
		})
	}
}

func TestMeanRisk_UtilityTradesOffRiskAndReturn(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 4, 250, 31)
	opt := newTestMeanRisk()
	spec := risk.MustSpec(risk.Variance)

	cautious, err := opt.Solve(returns, mustConfig(t, spec, Utility, WithRiskAversion(1000)))
	require.NoError(t, err)
	bold, err := opt.Solve(returns, mustConfig(t, spec, Utility, WithRiskAversion(0.1)))
	require.NoError(t, err)

	assert.LessOrEqual(t, cautious.Risk, bold.Risk+1e-12)
	assert.LessOrEqual(t, cautious.Return, bold.Return+1e-12)
}
