package optimization

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// HierarchicalModel selects a clustering-based allocation model.
type HierarchicalModel int

const (
	// HRP is hierarchical risk parity.
	HRP HierarchicalModel = iota + 1
	// HERC is hierarchical equal risk contribution.
	HERC
	// NCO is nested clustered optimization.
	NCO
)

var hierarchicalTags = map[HierarchicalModel]string{HRP: "HRP", HERC: "HERC", NCO: "NCO"}

// ParseHierarchicalModel resolves HRP, HERC or NCO.
func ParseHierarchicalModel(tag string) (HierarchicalModel, error) {
	for m, t := range hierarchicalTags {
		if strings.EqualFold(t, tag) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown hierarchical model %q", domain.ErrInvalidConfiguration, tag)
}

func (m HierarchicalModel) String() string {
	if t, ok := hierarchicalTags[m]; ok {
		return t
	}
	return fmt.Sprintf("HierarchicalModel(%d)", int(m))
}

// Valid reports whether m is a declared model.
func (m HierarchicalModel) Valid() bool {
	_, ok := hierarchicalTags[m]
	return ok
}

// HierarchicalConfig describes one hierarchical allocation.
type HierarchicalConfig struct {
	Model        HierarchicalModel
	Codependence clustering.Codependence
	Linkage      clustering.Linkage
	// K fixes the number of clusters; zero selects it with the gap statistic.
	K         int
	MaxK      int
	Bins      clustering.Bins
	AlphaTail float64
	LeafOrder bool
	Risk      risk.Spec
	// Objective is the intra-cluster objective of NCO; InterObjective the one across
	// clusters.
	Objective      Objective
	InterObjective Objective
	RiskFree       float64
	RiskAversion   float64
	Long           float64
	MeanMethod     estimation.MeanMethod
	CovMethod      estimation.CovMethod
	DecayFactor    float64
	Solver         SolverSettings
}

// DefaultHierarchicalConfig returns an HRP configuration with the usual defaults.
func DefaultHierarchicalConfig() HierarchicalConfig {
	return HierarchicalConfig{
		Model:          HRP,
		Codependence:   clustering.Pearson,
		Linkage:        clustering.Single,
		MaxK:           10,
		Bins:           clustering.Knuth,
		AlphaTail:      0.05,
		LeafOrder:      true,
		Risk:           risk.MustSpec(risk.Variance),
		Objective:      MinRisk,
		InterObjective: MinRisk,
		RiskAversion:   1,
		Long:           1,
		MeanMethod:     estimation.MeanHistorical,
		CovMethod:      estimation.CovHistorical,
		DecayFactor:    estimation.DefaultDecay,
		Solver:         DefaultSolverSettings(),
	}
}

// Validate checks the configuration.
func (c HierarchicalConfig) Validate() error {
	if !c.Model.Valid() {
		return fmt.Errorf("%w: unknown hierarchical model %d", domain.ErrInvalidConfiguration, int(c.Model))
	}
	if err := c.clusteringConfig().Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if !(c.Long > 0) || math.IsInf(c.Long, 0) {
		return fmt.Errorf("%w: long budget must be positive, got %v", domain.ErrInvalidConfiguration, c.Long)
	}
	if !(c.AlphaTail > 0 && c.AlphaTail < 1) {
		return fmt.Errorf("%w: tail quantile must be in (0, 1), got %v", domain.ErrInvalidConfiguration, c.AlphaTail)
	}
	if c.Model == NCO {
		for _, obj := range []Objective{c.Objective, c.InterObjective} {
			if !obj.Valid() || obj == MaxRet {
				return fmt.Errorf("%w: NCO objective must be MinRisk, Utility, Sharpe or ERC, got %s", domain.ErrInvalidConfiguration, obj)
			}
			if obj == ERC && !c.Risk.Measure.SupportsRiskParity() {
				return fmt.Errorf("%w: %s cannot be used for risk parity", domain.ErrInvalidConfiguration, c.Risk.Measure)
			}
			if obj != ERC && !c.Risk.Measure.Optimizable() {
				return fmt.Errorf("%w: %s cannot be optimized", domain.ErrInvalidConfiguration, c.Risk.Measure)
			}
		}
	}
	return nil
}

func (c HierarchicalConfig) clusteringConfig() clustering.Config {
	return clustering.Config{
		Codependence: clustering.CodependenceConfig{Method: c.Codependence, Bins: c.Bins, AlphaTail: c.AlphaTail},
		Linkage:      c.Linkage,
		LeafOrder:    c.LeafOrder,
		K:            c.K,
		MaxK:         c.MaxK,
	}
}

// HierarchicalResult is an allocation with the tree and clusters it was derived from.
type HierarchicalResult struct {
	Result   domain.Result
	Tree     *domain.ClusterTree
	Clusters [][]string
}

// HierarchicalOptimizer allocates along a cluster tree.
type HierarchicalOptimizer struct {
	clusterer TreeBuilder
	estimator MomentEstimator
	meanRisk  *MeanRiskOptimizer
	parity    *RiskParityOptimizer
	log       zerolog.Logger
}

// NewHierarchicalOptimizer creates a hierarchical optimizer.
func NewHierarchicalOptimizer(clusterer TreeBuilder, estimator MomentEstimator, log zerolog.Logger) *HierarchicalOptimizer {
	return &HierarchicalOptimizer{
		clusterer: clusterer,
		estimator: estimator,
		meanRisk:  NewMeanRiskOptimizer(estimator, log),
		parity:    NewRiskParityOptimizer(estimator, log),
		log:       log.With().Str("component", "hierarchical").Logger(),
	}
}

// Optimize clusters the universe and allocates with the configured model.
func (o *HierarchicalOptimizer) Optimize(returns domain.ReturnSeries, cfg HierarchicalConfig) (HierarchicalResult, error) {
	if err := cfg.Validate(); err != nil {
		return HierarchicalResult{}, err
	}
	n := returns.N()
	if n < 2 {
		return HierarchicalResult{}, fmt.Errorf("%w: hierarchical models need at least 2 assets, got %d", domain.ErrInsufficientData, n)
	}
	clustered, err := o.clusterer.Cluster(returns, cfg.clusteringConfig())
	if err != nil {
		return HierarchicalResult{}, err
	}
	out := HierarchicalResult{Tree: clustered.Tree, Clusters: make([][]string, len(clustered.Clusters))}
	assets := returns.Assets()
	for c, members := range clustered.Clusters {
		for _, j := range members {
			out.Clusters[c] = append(out.Clusters[c], assets[j])
		}
	}

	var w []float64
	switch cfg.Model {
	case HRP, HERC:
		eval, err := o.evaluator(returns, cfg)
		if err != nil {
			return HierarchicalResult{}, err
		}
		if cfg.Model == HRP {
			w, err = recursiveBisection(eval, clustered.Tree)
		} else {
			w, err = equalRiskClusters(eval, clustered.Tree, clustered.K)
		}
		if errors.Is(err, domain.ErrNonConvergence) {
			out.Result = domain.InfeasibleResult(domain.ReasonNonConvergence, "%v", err)
			return out, nil
		}
		if err != nil {
			return HierarchicalResult{}, err
		}
	case NCO:
		var infeasible *domain.Result
		w, infeasible, err = o.nested(returns, cfg, clustered.Clusters)
		if err != nil {
			return HierarchicalResult{}, err
		}
		if infeasible != nil {
			out.Result = *infeasible
			return out, nil
		}
	}

	floats.Scale(cfg.Long, w)
	weights, err := domain.NewWeights(assets, w)
	if err != nil {
		return HierarchicalResult{}, err
	}
	out.Result = domain.Feasible(weights)
	o.log.Debug().
		Str("model", cfg.Model.String()).
		Str("linkage", cfg.Linkage.String()).
		Int("clusters", clustered.K).
		Msg("Allocated along cluster tree")
	return out, nil
}

func (o *HierarchicalOptimizer) evaluator(returns domain.ReturnSeries, cfg HierarchicalConfig) (*risk.Evaluator, error) {
	var opts []risk.EvaluatorOption
	if cfg.Risk.Measure == risk.Variance {
		cov, err := o.estimator.Covariance(returns, estimation.CovarianceOptions{Method: cfg.CovMethod, Decay: cfg.DecayFactor})
		if err != nil {
			return nil, fmt.Errorf("covariance: %w", err)
		}
		opts = append(opts, risk.WithCovariance(cov))
	}
	return risk.NewEvaluator(returns, cfg.Risk, opts...)
}

// riskEvaluator is the part of a risk evaluator the tree allocators need.
type riskEvaluator interface {
	Assets() int
	Risk(w []float64) (float64, error)
}

// inverseRisk returns weights over members proportional to the inverse of each asset's
// stand-alone risk, and the risk of that portfolio. Riskless assets share the whole
// weight.
func inverseRisk(eval riskEvaluator, members []int) ([]float64, float64, error) {
	n := eval.Assets()
	inv := make([]float64, len(members))
	var riskless []int
	for k, j := range members {
		unit := make([]float64, n)
		unit[j] = 1
		r, err := eval.Risk(unit)
		if err != nil {
			return nil, 0, fmt.Errorf("risk of asset %d: %w", j, err)
		}
		if r <= 0 {
			riskless = append(riskless, k)
			continue
		}
		inv[k] = 1 / r
	}
	if len(riskless) > 0 {
		inv = make([]float64, len(members))
		for _, k := range riskless {
			inv[k] = 1
		}
	}
	floats.Scale(1/floats.Sum(inv), inv)

	w := make([]float64, n)
	for k, j := range members {
		w[j] = inv[k]
	}
	r, err := eval.Risk(w)
	if err != nil {
		return nil, 0, fmt.Errorf("risk of cluster: %w", err)
	}
	return inv, r, nil
}

// splitShare is the share of the left branch when two branches are weighted inversely to
// their risks.
func splitShare(left, right float64) float64 {
	if left+right <= 0 {
		return 0.5
	}
	return math.Max(0, math.Min(1, 1-left/(left+right)))
}

// recursiveBisection splits weight at every node of the tree between its children
// inversely to the risk of their inverse-risk portfolios.
func recursiveBisection(eval riskEvaluator, tree *domain.ClusterTree) ([]float64, error) {
	w := make([]float64, tree.N())
	for i := range w {
		w[i] = 1
	}
	var walk func(id int) error
	walk = func(id int) error {
		node := tree.Node(id)
		if node.IsLeaf() {
			return nil
		}
		left, right := tree.Leaves(node.Left), tree.Leaves(node.Right)
		_, vLeft, err := inverseRisk(eval, left)
		if err != nil {
			return err
		}
		_, vRight, err := inverseRisk(eval, right)
		if err != nil {
			return err
		}
		alpha := splitShare(vLeft, vRight)
		for _, j := range left {
			w[j] *= alpha
		}
		for _, j := range right {
			w[j] *= 1 - alpha
		}
		if err := walk(node.Left); err != nil {
			return err
		}
		return walk(node.Right)
	}
	if err := walk(tree.Root()); err != nil {
		return nil, err
	}
	return w, nil
}

// equalRiskClusters walks the tree down to the k clusters splitting weight between the
// risk of each side, then spreads each cluster's weight by inverse risk.
func equalRiskClusters(eval riskEvaluator, tree *domain.ClusterTree, k int) ([]float64, error) {
	roots, err := tree.CutNodes(k)
	if err != nil {
		return nil, err
	}
	terminal := make(map[int]bool, len(roots))
	clusterRisk := make(map[int]float64, len(roots))
	intra := make(map[int][]float64, len(roots))
	for _, id := range roots {
		terminal[id] = true
		intra[id], clusterRisk[id], err = inverseRisk(eval, tree.Leaves(id))
		if err != nil {
			return nil, err
		}
	}

	// sideRisk sums the risks of the terminal clusters below id.
	var sideRisk func(id int) float64
	sideRisk = func(id int) float64 {
		if terminal[id] {
			return clusterRisk[id]
		}
		node := tree.Node(id)
		return sideRisk(node.Left) + sideRisk(node.Right)
	}

	w := make([]float64, tree.N())
	var walk func(id int, share float64)
	walk = func(id int, share float64) {
		if terminal[id] {
			for k, j := range tree.Leaves(id) {
				w[j] = share * intra[id][k]
			}
			return
		}
		node := tree.Node(id)
		alpha := splitShare(sideRisk(node.Left), sideRisk(node.Right))
		walk(node.Left, share*alpha)
		walk(node.Right, share*(1-alpha))
	}
	walk(tree.Root(), 1)
	return w, nil
}

// nested solves each cluster on its own, then allocates across the synthetic cluster
// return series.
func (o *HierarchicalOptimizer) nested(returns domain.ReturnSeries, cfg HierarchicalConfig, clusters [][]int) ([]float64, *domain.Result, error) {
	n := returns.N()
	intra := make([][]float64, len(clusters))
	synthetic := make([][]float64, len(clusters))
	names := make([]string, len(clusters))

	for c, members := range clusters {
		names[c] = fmt.Sprintf("cluster-%d", c+1)
		sub, err := returns.Subset(members)
		if err != nil {
			return nil, nil, err
		}
		if len(members) == 1 {
			intra[c] = []float64{1}
		} else {
			res, err := o.solveNested(sub, cfg, cfg.Objective, 1)
			if err != nil {
				return nil, nil, fmt.Errorf("cluster %d: %w", c+1, err)
			}
			weights, ok := res.Weights()
			if !ok {
				inf, _ := res.Infeasibility()
				r := domain.InfeasibleResult(inf.Reason, "cluster %d: %s", c+1, inf.Detail)
				return nil, &r, nil
			}
			intra[c] = weights.Values
		}
		synthetic[c], err = sub.Portfolio(intra[c])
		if err != nil {
			return nil, nil, err
		}
	}

	if len(clusters) == 1 {
		return scatter(n, clusters[0], intra[0], 1), nil, nil
	}
	series, err := domain.NewReturnSeriesFromColumns(names, synthetic)
	if err != nil {
		return nil, nil, err
	}
	res, err := o.solveNested(series, cfg, cfg.InterObjective, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("across clusters: %w", err)
	}
	inter, ok := res.Weights()
	if !ok {
		inf, _ := res.Infeasibility()
		r := domain.InfeasibleResult(inf.Reason, "across clusters: %s", inf.Detail)
		return nil, &r, nil
	}

	w := make([]float64, n)
	for c, members := range clusters {
		floats.Add(w, scatter(n, members, intra[c], inter.Values[c]))
	}
	return w, nil, nil
}

func (o *HierarchicalOptimizer) solveNested(returns domain.ReturnSeries, cfg HierarchicalConfig, obj Objective, long float64) (domain.Result, error) {
	if obj == ERC {
		return o.parity.Optimize(returns, RiskParityConfig{
			Risk:        cfg.Risk,
			Long:        long,
			MeanMethod:  cfg.MeanMethod,
			CovMethod:   cfg.CovMethod,
			DecayFactor: cfg.DecayFactor,
			Solver:      cfg.Solver,
		})
	}
	mr, err := NewMeanRiskConfig(cfg.Risk, obj,
		WithRiskFree(cfg.RiskFree),
		WithRiskAversion(cfg.RiskAversion),
		WithBudget(domain.Budget{Long: long}),
		WithMeanMethod(cfg.MeanMethod),
		WithCovMethod(cfg.CovMethod),
		WithDecayFactor(cfg.DecayFactor),
		WithSolverSettings(cfg.Solver),
	)
	if err != nil {
		return domain.Result{}, err
	}
	return o.meanRisk.Optimize(returns, mr)
}

func scatter(n int, members []int, values []float64, scale float64) []float64 {
	w := make([]float64, n)
	for k, j := range members {
		w[j] = scale * values[k]
	}
	return w
}
