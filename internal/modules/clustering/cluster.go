package clustering

import (
	"fmt"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Config describes one clustering run.
type Config struct {
	Codependence CodependenceConfig
	Linkage      Linkage
	// LeafOrder reorders the dendrogram so neighbouring leaves are close.
	LeafOrder bool
	// K fixes the number of clusters; zero selects it with the gap statistic.
	K int
	// MaxK bounds the gap statistic search.
	MaxK int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Codependence.Method.Valid() {
		return fmt.Errorf("%w: unknown codependence %d", domain.ErrInvalidConfiguration, int(c.Codependence.Method))
	}
	if !c.Linkage.Valid() {
		return fmt.Errorf("%w: unknown linkage %d", domain.ErrInvalidConfiguration, int(c.Linkage))
	}
	if c.K < 0 || c.MaxK < 0 {
		return fmt.Errorf("%w: k and max_k must be non-negative", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Result is a clustered universe: the tree, the cut, and the measurements behind them.
type Result struct {
	Tree       *domain.ClusterTree
	Dependence *Dependence
	K          int
	// Clusters lists the asset columns of each cluster in leaf order.
	Clusters [][]int
}

// Clusterer builds cluster trees.
type Clusterer struct {
	log zerolog.Logger
}

// NewClusterer creates a clusterer.
func NewClusterer(log zerolog.Logger) *Clusterer {
	return &Clusterer{log: log.With().Str("component", "clustering").Logger()}
}

// Cluster measures codependence, builds the tree and cuts it. The universe is processed
// in asset label order, so the tree and the clusters do not depend on the column order of
// returns; the result refers to the columns of returns.
func (c *Clusterer) Cluster(returns domain.ReturnSeries, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order := labelOrder(returns.Assets())
	sorted, err := returns.Subset(order)
	if err != nil {
		return nil, err
	}

	dep, err := ComputeDependence(sorted, cfg.Codependence)
	if err != nil {
		return nil, fmt.Errorf("codependence: %w", err)
	}

	var tree *domain.ClusterTree
	if cfg.Linkage == DBHT {
		tree, err = BubbleTree(dep, sorted.Assets())
	} else {
		tree, err = Agglomerate(dep.Distance, sorted.Assets(), cfg.Linkage)
	}
	if err != nil {
		return nil, fmt.Errorf("linkage %s: %w", cfg.Linkage, err)
	}
	if cfg.LeafOrder {
		OptimalLeafOrder(tree, dep.Distance)
	}

	k := cfg.K
	if k == 0 {
		k = OptimalClusters(tree, dep.Distance, cfg.MaxK)
	}
	if k > tree.N() {
		return nil, fmt.Errorf("%w: %d clusters requested for %d assets", domain.ErrInvalidConfiguration, k, tree.N())
	}

	tree = restoreTree(tree, order, returns.Assets())
	dep = &Dependence{
		Codependence: restoreSym(dep.Codependence, order),
		Distance:     restoreSym(dep.Distance, order),
		Similarity:   restoreSym(dep.Similarity, order),
	}
	clusters, err := tree.Cut(k)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("codependence", cfg.Codependence.Method.String()).
		Str("linkage", cfg.Linkage.String()).
		Int("assets", tree.N()).
		Int("clusters", k).
		Msg("Clustered universe")

	return &Result{Tree: tree, Dependence: dep, K: k, Clusters: clusters}, nil
}

// labelOrder returns the columns of assets sorted by label.
func labelOrder(assets []string) []int {
	order := make([]int, len(assets))
	for j := range order {
		order[j] = j
	}
	sort.Slice(order, func(a, b int) bool { return assets[order[a]] < assets[order[b]] })
	return order
}

// restoreTree rebuilds a tree whose leaf k is column order[k] over the original columns.
// Internal node ids and the merge sequence are unchanged.
func restoreTree(tree *domain.ClusterTree, order []int, assets []string) *domain.ClusterTree {
	n := tree.N()
	column := func(id int) int {
		if id < n {
			return order[id]
		}
		return id
	}
	out := domain.NewClusterTree(assets)
	for _, node := range tree.Nodes[n:] {
		out.Merge(column(node.Left), column(node.Right), node.Height)
	}
	return out
}

// restoreSym maps a matrix over sorted columns back onto the original columns.
func restoreSym(m *mat.SymDense, order []int) *mat.SymDense {
	if m == nil {
		return nil
	}
	out := mat.NewSymDense(len(order), nil)
	for a := range order {
		for b := a; b < len(order); b++ {
			out.SetSym(order[a], order[b], m.At(a, b))
		}
	}
	return out
}
