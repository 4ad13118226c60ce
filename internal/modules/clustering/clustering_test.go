package clustering

import (
	"math"
	"sort"
	"testing"

	"github.com/aristath/allocator/internal/domain"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func lineDistances(points []float64) *mat.SymDense {
	n := len(points)
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d.SetSym(i, j, math.Abs(points[i]-points[j]))
		}
	}
	return d
}

func TestParseTags(t *testing.T) {
	c, err := ParseCodependence("ABS_SPEARMAN")
	require.NoError(t, err)
	assert.Equal(t, AbsSpearman, c)

	l, err := ParseLinkage("ward")
	require.NoError(t, err)
	assert.Equal(t, Ward, l)

	b, err := ParseBins("hgr")
	require.NoError(t, err)
	assert.Equal(t, HacineGharbi, b)

	_, err = ParseCodependence("kendall")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = ParseLinkage("nearest")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = ParseBins("sturges")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestAgglomerate_LanceWilliamsHeights(t *testing.T) {
	dist := lineDistances([]float64{0, 1, 5, 6})
	assets := []string{"A", "B", "C", "D"}

	tests := []struct {
		linkage Linkage
		root    float64
	}{
		{Single, 4},
		{Complete, 6},
		{Average, 5},
		{Weighted, 5},
		{Ward, math.Sqrt(50)},
	}

	for _, tt := range tests {
		t.Run(tt.linkage.String(), func(t *testing.T) {
			tree, err := Agglomerate(dist, assets, tt.linkage)
			require.NoError(t, err)
			require.True(t, tree.Complete())

			assert.InDelta(t, 1.0, tree.Node(4).Height, 1e-12)
			assert.InDelta(t, 1.0, tree.Node(5).Height, 1e-12)
			assert.InDelta(t, tt.root, tree.Node(tree.Root()).Height, 1e-12)

			// The tie between {A,B} and {C,D} goes to the smaller labels.
			assert.Equal(t, 0, tree.Node(4).Left)
			assert.Equal(t, 1, tree.Node(4).Right)

			clusters, err := tree.Cut(2)
			require.NoError(t, err)
			assert.Equal(t, [][]int{{0, 1}, {2, 3}}, clusters)
		})
	}
}

func TestAgglomerate_TiesFollowLabels(t *testing.T) {
	// Same distances as above with the labels reversed: {A,B} now sits in columns 3 and 2.
	dist := lineDistances([]float64{0, 1, 5, 6})
	tree, err := Agglomerate(dist, []string{"D", "C", "B", "A"}, Single)
	require.NoError(t, err)

	assert.Equal(t, 3, tree.Node(4).Left)
	assert.Equal(t, 2, tree.Node(4).Right)
	assert.Equal(t, 1, tree.Node(5).Left)
	assert.Equal(t, 0, tree.Node(5).Right)
	assert.Equal(t, []int{3, 2, 1, 0}, tree.Order())
}

func TestAgglomerate_Errors(t *testing.T) {
	_, err := Agglomerate(lineDistances([]float64{0, 1}), []string{"A", "B"}, DBHT)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = Agglomerate(lineDistances([]float64{0}), []string{"A"}, Single)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = Agglomerate(lineDistances([]float64{0, 1}), []string{"A"}, Single)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestComputeDependence_CorrelationFamilies(t *testing.T) {
	x := []float64{0.01, -0.02, 0.03, 0.00, -0.01, 0.02}
	y := make([]float64, len(x))
	z := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2*v + 0.001
		z[i] = -v
	}
	returns, err := domain.NewReturnSeriesFromColumns([]string{"X", "Y", "Z"}, [][]float64{x, y, z})
	require.NoError(t, err)

	tests := []struct {
		method Codependence
		xy, xz float64
	}{
		{Pearson, 0, 1},
		{Spearman, 0, 1},
		{AbsPearson, 0, 0},
		{AbsSpearman, 0, 0},
		{DistanceCorrelation, 0, 0},
		{TailDependence, 0, -math.Log(1e-6)},
	}

	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			dep, err := ComputeDependence(returns, CodependenceConfig{Method: tt.method, AlphaTail: 0.2})
			require.NoError(t, err)
			assert.InDelta(t, tt.xy, dep.Distance.At(0, 1), 1e-6)
			assert.InDelta(t, tt.xz, dep.Distance.At(0, 2), 1e-6)
			assert.Equal(t, 0.0, dep.Distance.At(1, 1))
		})
	}
}

func TestComputeDependence_MutualInformation(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 3, 300, 21)
	cols := returns.Columns()
	linear := make([]float64, len(cols[0]))
	for i, v := range cols[0] {
		linear[i] = 2 * v
	}
	series, err := domain.NewReturnSeriesFromColumns([]string{"A", "B", "C", "LIN"}, [][]float64{cols[0], cols[1], cols[2], linear})
	require.NoError(t, err)

	for _, bins := range []Bins{Knuth, FreedmanDiaconis, Scott, HacineGharbi} {
		t.Run(bins.String(), func(t *testing.T) {
			dep, err := ComputeDependence(series, CodependenceConfig{Method: MutualInformation, Bins: bins})
			require.NoError(t, err)

			// Doubling a column keeps every observation in the same bin.
			if bins != HacineGharbi {
				assert.InDelta(t, 1.0, dep.Codependence.At(0, 3), 1e-9)
				assert.InDelta(t, 0.0, dep.Distance.At(0, 3), 1e-9)
			}
			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					assert.GreaterOrEqual(t, dep.Distance.At(i, j), 0.0)
					assert.LessOrEqual(t, dep.Distance.At(i, j), 1.0)
				}
			}
		})
	}
}

func TestComputeDependence_ConstantColumn(t *testing.T) {
	returns := testutil.NewSeries(t, []string{"A", "B"}, [][]float64{{0.01, 0}, {0.02, 0}, {-0.01, 0}})
	_, err := ComputeDependence(returns, CodependenceConfig{Method: Pearson})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestTMFG_Structure(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 4, 250, 5)
	dep, err := ComputeDependence(returns, CodependenceConfig{Method: Pearson})
	require.NoError(t, err)

	g, err := TMFG(dep.Similarity)
	require.NoError(t, err)

	n := returns.N()
	assert.Equal(t, 3*n-6, g.Edges())
	assert.Len(t, g.Cliques, n-3)
	assert.Len(t, g.Separators, n-4)
	for s, sep := range g.Separators {
		for _, clique := range g.SeparatorCliques[s] {
			for _, v := range sep {
				assert.True(t, inClique(g.Cliques[clique], v))
			}
		}
	}

	_, err = TMFG(mat.NewSymDense(3, nil))
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestCluster_RecoversGroups(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 4, 400, 8)
	clusterer := NewClusterer(zerolog.Nop())

	for _, linkage := range []Linkage{Single, Complete, Average, Ward, DBHT} {
		t.Run(linkage.String(), func(t *testing.T) {
			res, err := clusterer.Cluster(returns, Config{
				Codependence: CodependenceConfig{Method: Pearson},
				Linkage:      linkage,
				LeafOrder:    true,
				K:            3,
			})
			require.NoError(t, err)
			require.True(t, res.Tree.Complete())
			require.Len(t, res.Clusters, 3)

			groups := make([][]int, 0, 3)
			for _, members := range res.Clusters {
				sorted := append([]int(nil), members...)
				sort.Ints(sorted)
				groups = append(groups, sorted)
			}
			sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })
			assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 10, 11}}, groups)
		})
	}
}

func TestCluster_IndependentOfColumnOrder(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 3, 250, 11)
	shuffled, err := returns.Select([]string{"A07", "A02", "A09", "A04", "A01", "A08", "A05", "A03", "A06"})
	require.NoError(t, err)
	clusterer := NewClusterer(zerolog.Nop())

	labels := func(assets []string, columns []int) []string {
		out := make([]string, len(columns))
		for i, j := range columns {
			out[i] = assets[j]
		}
		return out
	}

	for _, method := range []Codependence{Pearson, TailDependence} {
		for _, linkage := range []Linkage{Single, Average, Ward, DBHT} {
			t.Run(method.String()+" "+linkage.String(), func(t *testing.T) {
				cfg := Config{
					Codependence: CodependenceConfig{Method: method, AlphaTail: 0.05},
					Linkage:      linkage,
					LeafOrder:    true,
				}
				a, err := clusterer.Cluster(returns, cfg)
				require.NoError(t, err)
				b, err := clusterer.Cluster(shuffled, cfg)
				require.NoError(t, err)

				assert.Equal(t, a.K, b.K)
				assert.Equal(t, labels(returns.Assets(), a.Tree.Order()), labels(shuffled.Assets(), b.Tree.Order()))
				require.Len(t, b.Clusters, len(a.Clusters))
				for c := range a.Clusters {
					assert.Equal(t, labels(returns.Assets(), a.Clusters[c]), labels(shuffled.Assets(), b.Clusters[c]))
				}

				// The dependence matrices refer to the caller's columns.
				for i, x := range shuffled.Assets() {
					for j, y := range shuffled.Assets() {
						ia, _ := returns.Index(x)
						ja, _ := returns.Index(y)
						assert.InDelta(t, a.Dependence.Distance.At(ia, ja), b.Dependence.Distance.At(i, j), 1e-12)
					}
				}
			})
		}
	}
}

func TestOptimalClusters_GapStatistic(t *testing.T) {
	returns := testutil.NewClusteredFixture(t, 3, 4, 400, 8)
	dep, err := ComputeDependence(returns, CodependenceConfig{Method: Pearson})
	require.NoError(t, err)
	tree, err := Agglomerate(dep.Distance, returns.Assets(), Average)
	require.NoError(t, err)

	assert.Equal(t, 3, OptimalClusters(tree, dep.Distance, 10))
	assert.Equal(t, 2, OptimalClusters(tree, dep.Distance, 2))
}

func TestOptimalLeafOrder_NeverWorse(t *testing.T) {
	returns := testutil.NewReturnFixture(t, 7, 200, 4)
	dep, err := ComputeDependence(returns, CodependenceConfig{Method: Pearson})
	require.NoError(t, err)

	tree, err := Agglomerate(dep.Distance, returns.Assets(), Average)
	require.NoError(t, err)
	before := pathLength(tree.Order(), dep.Distance)
	heights := make([]float64, len(tree.Nodes))
	for i, n := range tree.Nodes {
		heights[i] = n.Height
	}

	OptimalLeafOrder(tree, dep.Distance)
	order := tree.Order()
	after := pathLength(order, dep.Distance)

	assert.LessOrEqual(t, after, before+1e-12)
	sorted := append([]int(nil), order...)
	sort.Ints(sorted)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, sorted)
	for i, n := range tree.Nodes {
		assert.Equal(t, heights[i], n.Height, "reordering keeps the merge structure")
	}
}

func pathLength(order []int, dist mat.Symmetric) float64 {
	sum := 0.0
	for i := 1; i < len(order); i++ {
		sum += dist.At(order[i-1], order[i])
	}
	return sum
}
