package optimization

import (
	"sort"
	"testing"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newTestHierarchical() *HierarchicalOptimizer {
	return NewHierarchicalOptimizer(
		clustering.NewClusterer(zerolog.Nop()),
		estimation.NewEstimator(zerolog.Nop()),
		zerolog.Nop(),
	)
}

func TestParseHierarchicalModel(t *testing.T) {
	for _, m := range []HierarchicalModel{HRP, HERC, NCO} {
		parsed, err := ParseHierarchicalModel(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseHierarchicalModel("HCAA")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestHierarchical_UncorrelatedPairIsInverseVariance(t *testing.T) {
	for _, model := range []HierarchicalModel{HRP, HERC} {
		t.Run(model.String(), func(t *testing.T) {
			cfg := DefaultHierarchicalConfig()
			cfg.Model = model
			cfg.K = 2
			res, err := newTestHierarchical().Optimize(uncorrelatedPair(t), cfg)
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0.8, 0.2}, mustWeights(t, res.Result), 1e-9)
		})
	}
}

func TestHierarchical_ModelsSpendTheBudget(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 3, 250, 6)

	tests := []struct {
		name  string
		setup func(*HierarchicalConfig)
	}{
		{"HRP", func(c *HierarchicalConfig) { c.Model = HRP }},
		{"HRP CVaR", func(c *HierarchicalConfig) {
			c.Model = HRP
			c.Risk = risk.MustSpec(risk.ConditionalValueAtRisk)
		}},
		{"HERC", func(c *HierarchicalConfig) { c.Model = HERC }},
		{"HERC CDaR ward", func(c *HierarchicalConfig) {
			c.Model = HERC
			c.Linkage = clustering.Ward
			c.Risk = risk.MustSpec(risk.ConditionalDrawdownAtRisk)
		}},
		{"NCO minimum risk", func(c *HierarchicalConfig) { c.Model = NCO }},
		{"NCO sharpe across clusters", func(c *HierarchicalConfig) {
			c.Model = NCO
			c.InterObjective = Sharpe
		}},
		{"NCO equal risk contribution", func(c *HierarchicalConfig) {
			c.Model = NCO
			c.Objective = ERC
			c.InterObjective = ERC
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHierarchicalConfig()
			cfg.K = 3
			cfg.Long = 1.5
			tt.setup(&cfg)

			res, err := newTestHierarchical().Optimize(returns, cfg)
			require.NoError(t, err)
			w := mustWeights(t, res.Result)
			assert.InDelta(t, 1.5, floats.Sum(w), 1e-9)
			assert.GreaterOrEqual(t, floats.Min(w), 0.0)
			assert.Len(t, res.Clusters, 3)
			assert.True(t, res.Tree.Complete())
		})
	}
}

func TestHierarchical_ClustersFollowGroups(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 3, 250, 6)
	cfg := DefaultHierarchicalConfig()
	cfg.Model = HERC
	cfg.K = 3

	res, err := newTestHierarchical().Optimize(returns, cfg)
	require.NoError(t, err)

	var got [][]string
	for _, c := range res.Clusters {
		members := append([]string(nil), c...)
		sort.Strings(members)
		got = append(got, members)
	}
	sort.Slice(got, func(a, b int) bool { return got[a][0] < got[b][0] })
	assert.Equal(t, [][]string{
		{"A01", "A02", "A03"},
		{"A04", "A05", "A06"},
		{"A07", "A08", "A09"},
	}, got)
}

func TestHierarchical_PermutationInvariance(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 3, 250, 11)
	shuffled, err := returns.Select([]string{"A07", "A02", "A09", "A04", "A01", "A08", "A05", "A03", "A06"})
	require.NoError(t, err)

	// Tail dependence distances are logarithms of integer counts, so many of them tie.
	tests := []struct {
		name         string
		model        HierarchicalModel
		codependence clustering.Codependence
		linkage      clustering.Linkage
	}{
		{"HRP pearson single", HRP, clustering.Pearson, clustering.Single},
		{"HRP tail single", HRP, clustering.TailDependence, clustering.Single},
		{"HRP tail average", HRP, clustering.TailDependence, clustering.Average},
		{"HRP tail ward", HRP, clustering.TailDependence, clustering.Ward},
		{"HRP tail dbht", HRP, clustering.TailDependence, clustering.DBHT},
		{"HERC pearson single", HERC, clustering.Pearson, clustering.Single},
		{"HERC tail complete", HERC, clustering.TailDependence, clustering.Complete},
		{"HERC tail dbht", HERC, clustering.TailDependence, clustering.DBHT},
		{"NCO pearson single", NCO, clustering.Pearson, clustering.Single},
		{"NCO tail ward", NCO, clustering.TailDependence, clustering.Ward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHierarchicalConfig()
			cfg.Model = tt.model
			cfg.Codependence = tt.codependence
			cfg.Linkage = tt.linkage
			cfg.K = 3

			a, err := newTestHierarchical().Optimize(returns, cfg)
			require.NoError(t, err)
			b, err := newTestHierarchical().Optimize(shuffled, cfg)
			require.NoError(t, err)

			assert.Equal(t, a.Clusters, b.Clusters)
			wa := mustWeights(t, a.Result)
			wb, ok := b.Result.Weights()
			require.True(t, ok)
			for j, asset := range returns.Assets() {
				assert.InDelta(t, wa[j], wb.Get(asset), 1e-6, asset)
			}
		})
	}
}

func TestHierarchicalConfig_Validation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*HierarchicalConfig)
	}{
		{"unknown model", func(c *HierarchicalConfig) { c.Model = HierarchicalModel(7) }},
		{"zero long budget", func(c *HierarchicalConfig) { c.Long = 0 }},
		{"tail quantile out of range", func(c *HierarchicalConfig) { c.AlphaTail = 1 }},
		{"NCO cannot maximize return", func(c *HierarchicalConfig) {
			c.Model = NCO
			c.InterObjective = MaxRet
		}},
		{"NCO mean-risk needs an optimizable measure", func(c *HierarchicalConfig) {
			c.Model = NCO
			c.Risk = risk.MustSpec(risk.ValueAtRisk)
		}},
		{"NCO equal risk contribution needs a parity measure", func(c *HierarchicalConfig) {
			c.Model = NCO
			c.Objective = ERC
			c.Risk = risk.MustSpec(risk.WorstRealization)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHierarchicalConfig()
			tt.setup(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfiguration)
		})
	}
}

func TestHierarchical_NeedsTwoAssets(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 1, 50, 1)
	_, err := newTestHierarchical().Optimize(returns, DefaultHierarchicalConfig())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

// diagonalRisk is a variance with independent assets that fails whenever the asset
// at index failing carries weight.
type diagonalRisk struct {
	variances []float64
	failing   int
}

func (d diagonalRisk) Assets() int { return len(d.variances) }

func (d diagonalRisk) Risk(w []float64) (float64, error) {
	if d.failing >= 0 && w[d.failing] > 0 {
		return 0, domain.ErrNonConvergence
	}
	v := 0.0
	for j, x := range w {
		v += x * x * d.variances[j]
	}
	return v, nil
}

func TestTreeAllocators_PropagateRiskErrors(t *testing.T) {
	tree := domain.NewClusterTree([]string{"A", "B", "C"})
	tree.Merge(tree.Merge(0, 1, 0.1), 2, 0.5)

	tests := []struct {
		name    string
		failing int
	}{
		{"every risk succeeds", -1},
		{"singleton cluster fails", 2},
		{"paired cluster fails", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := diagonalRisk{variances: []float64{0.01, 0.04, 0.02}, failing: tt.failing}

			hrp, err := recursiveBisection(eval, tree)
			herc, errHERC := equalRiskClusters(eval, tree, 2)
			if tt.failing < 0 {
				require.NoError(t, err)
				require.NoError(t, errHERC)
				assert.InDelta(t, 1.0, floats.Sum(hrp), 1e-12)
				assert.InDelta(t, 1.0, floats.Sum(herc), 1e-12)
				return
			}
			assert.ErrorIs(t, err, domain.ErrNonConvergence)
			assert.ErrorIs(t, errHERC, domain.ErrNonConvergence)
			assert.Nil(t, hrp)
			assert.Nil(t, herc)
		})
	}
}
