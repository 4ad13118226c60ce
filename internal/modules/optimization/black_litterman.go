package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BlackLittermanConfig describes a Black-Litterman allocation. P and Q hold the views
// P·μ = Q; no views returns the prior.
type BlackLittermanConfig struct {
	// Benchmark weights; nil means equal weights.
	Benchmark []float64
	P         [][]float64
	Q         []float64
	// Delta is the risk aversion; nil derives it from the benchmark.
	Delta *float64
	// Equilibrium uses the implied returns δΣw_b as the prior instead of μ - rf.
	Equilibrium bool
	// Optimize runs a mean-risk program on the posterior instead of the closed form.
	Optimize bool
	RiskFree float64
	// Tau scales the prior uncertainty; zero means 1/T.
	Tau         float64
	Objective   Objective
	Risk        risk.Spec
	Budget      domain.Budget
	MeanMethod  estimation.MeanMethod
	CovMethod   estimation.CovMethod
	DecayFactor float64
	Solver      SolverSettings
}

func (c BlackLittermanConfig) withDefaults(t int) BlackLittermanConfig {
	if c.Tau == 0 {
		c.Tau = 1 / float64(t)
	}
	if c.Objective == 0 {
		c.Objective = Sharpe
	}
	if c.Risk.Measure == 0 {
		c.Risk = risk.MustSpec(risk.Variance)
	}
	if c.Budget == (domain.Budget{}) {
		c.Budget = domain.DefaultBudget()
	}
	if c.MeanMethod == 0 {
		c.MeanMethod = estimation.MeanHistorical
	}
	if c.CovMethod == 0 {
		c.CovMethod = estimation.CovHistorical
	}
	if c.DecayFactor == 0 {
		c.DecayFactor = estimation.DefaultDecay
	}
	return c
}

// Validate checks the configuration against a universe of n assets.
func (c BlackLittermanConfig) Validate(n int) error {
	if c.Benchmark != nil && len(c.Benchmark) != n {
		return fmt.Errorf("%w: %d benchmark weights for %d assets", domain.ErrInvalidConfiguration, len(c.Benchmark), n)
	}
	if len(c.P) != len(c.Q) {
		return fmt.Errorf("%w: %d view rows for %d view returns", domain.ErrInvalidConfiguration, len(c.P), len(c.Q))
	}
	for i, row := range c.P {
		if len(row) != n {
			return fmt.Errorf("%w: view %d has %d loadings for %d assets", domain.ErrInvalidConfiguration, i, len(row), n)
		}
		if floats.Norm(row, 1) == 0 {
			return fmt.Errorf("%w: view %d has no loadings", domain.ErrInvalidConfiguration, i)
		}
	}
	if !(c.Tau > 0) || math.IsInf(c.Tau, 0) {
		return fmt.Errorf("%w: tau must be positive, got %v", domain.ErrInvalidConfiguration, c.Tau)
	}
	if c.Delta != nil && (*c.Delta == 0 || math.IsNaN(*c.Delta)) {
		return fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidConfiguration)
	}
	return c.Budget.Validate()
}

// Posterior is the Black-Litterman update of the return moments.
type Posterior struct {
	// Prior is Π, the excess returns before the views.
	Prior []float64
	// Mean is the posterior expected return, risk-free rate included.
	Mean       []float64
	Covariance *mat.SymDense
	Delta      float64
}

// BlackLittermanOptimizer blends a prior with views.
type BlackLittermanOptimizer struct {
	estimator MomentEstimator
	meanRisk  *MeanRiskOptimizer
	log       zerolog.Logger
}

// NewBlackLittermanOptimizer creates a Black-Litterman optimizer.
func NewBlackLittermanOptimizer(estimator MomentEstimator, log zerolog.Logger) *BlackLittermanOptimizer {
	return &BlackLittermanOptimizer{
		estimator: estimator,
		meanRisk:  NewMeanRiskOptimizer(estimator, log),
		log:       log.With().Str("component", "black_litterman").Logger(),
	}
}

// Posterior computes the posterior moments.
func (o *BlackLittermanOptimizer) Posterior(returns domain.ReturnSeries, cfg BlackLittermanConfig) (Posterior, error) {
	cfg = cfg.withDefaults(returns.T())
	n := returns.N()
	if err := cfg.Validate(n); err != nil {
		return Posterior{}, err
	}
	m, err := estimateMoments(o.estimator, returns, momentSource{
		meanMethod: cfg.MeanMethod,
		covMethod:  cfg.CovMethod,
		decay:      cfg.DecayFactor,
	}, true)
	if err != nil {
		return Posterior{}, err
	}
	cov := m.cov

	wb := cfg.Benchmark
	if wb == nil {
		wb = equalWeights(n, 1)
	}
	wbv := mat.NewVecDense(n, wb)

	delta := 0.0
	if cfg.Delta != nil {
		delta = *cfg.Delta
	} else {
		variance := mat.Inner(wbv, cov, wbv)
		if variance <= 0 {
			return Posterior{}, fmt.Errorf("%w: benchmark has no variance", domain.ErrInsufficientData)
		}
		delta = (floats.Dot(wb, m.mu) - cfg.RiskFree) / variance
		if delta == 0 {
			return Posterior{}, fmt.Errorf("%w: benchmark earns exactly the risk-free rate", domain.ErrInsufficientData)
		}
	}

	prior := mat.NewVecDense(n, nil)
	if cfg.Equilibrium {
		prior.MulVec(cov, wbv)
		prior.ScaleVec(delta, prior)
	} else {
		for i, v := range m.mu {
			prior.SetVec(i, v-cfg.RiskFree)
		}
	}

	tauCov := mat.NewSymDense(n, nil)
	tauCov.ScaleSym(cfg.Tau, cov)

	mean := mat.VecDenseCopyOf(prior)
	uncertainty := mat.NewSymDense(n, nil)
	uncertainty.CopySym(tauCov)
	if k := len(cfg.P); k > 0 {
		mean, uncertainty, err = applyViews(prior, tauCov, cfg.P, cfg.Q)
		if err != nil {
			return Posterior{}, err
		}
	}

	post := mat.NewSymDense(n, nil)
	post.AddSym(cov, uncertainty)
	out := Posterior{
		Prior:      mat.Col(nil, 0, prior),
		Mean:       make([]float64, n),
		Covariance: post,
		Delta:      delta,
	}
	for i := range out.Mean {
		out.Mean[i] = mean.AtVec(i) + cfg.RiskFree
	}
	return out, nil
}

// applyViews returns the posterior excess returns and their uncertainty M. Ω is the
// diagonal of P(τΣ)Pᵀ. The update uses the Woodbury form, which does not need τΣ to be
// invertible.
func applyViews(prior *mat.VecDense, tauCov *mat.SymDense, views [][]float64, q []float64) (*mat.VecDense, *mat.SymDense, error) {
	n, k := prior.Len(), len(views)
	p := mat.NewDense(k, n, nil)
	for i, row := range views {
		p.SetRow(i, row)
	}

	var covPt mat.Dense
	covPt.Mul(tauCov, p.T())
	var viewCov mat.Dense
	viewCov.Mul(p, &covPt)

	s := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := 0.5 * (viewCov.At(i, j) + viewCov.At(j, i))
			if i == j {
				v *= 2
			}
			s.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, nil, fmt.Errorf("%w: view covariance is singular", domain.ErrInsufficientData)
	}

	resid := mat.NewVecDense(k, nil)
	resid.MulVec(p, prior)
	for i := 0; i < k; i++ {
		resid.SetVec(i, q[i]-resid.AtVec(i))
	}
	var z mat.VecDense
	if err := chol.SolveVecTo(&z, resid); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	mean := mat.NewVecDense(n, nil)
	mean.MulVec(&covPt, &z)
	mean.AddVec(mean, prior)

	var sInv mat.Dense
	if err := chol.SolveTo(&sInv, covPt.T()); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	var shrink mat.Dense
	shrink.Mul(&covPt, &sInv)
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, tauCov.At(i, j)-0.5*(shrink.At(i, j)+shrink.At(j, i)))
		}
	}
	return mean, m, nil
}

// Optimize allocates on the posterior.
func (o *BlackLittermanOptimizer) Optimize(returns domain.ReturnSeries, cfg BlackLittermanConfig) (domain.Result, error) {
	cfg = cfg.withDefaults(returns.T())
	post, err := o.Posterior(returns, cfg)
	if err != nil {
		return domain.Result{}, err
	}

	if cfg.Optimize {
		mr, err := NewMeanRiskConfig(cfg.Risk, cfg.Objective,
			WithRiskFree(cfg.RiskFree),
			WithBudget(cfg.Budget),
			WithSolverSettings(cfg.Solver),
			WithMoments(post.Mean, post.Covariance),
		)
		if err != nil {
			return domain.Result{}, err
		}
		return o.meanRisk.Optimize(returns, mr)
	}

	n := returns.N()
	excess := make([]float64, n)
	for i := range excess {
		excess[i] = (post.Mean[i] - cfg.RiskFree) / post.Delta
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(post.Covariance); !ok {
		return domain.Result{}, fmt.Errorf("%w: posterior covariance is not positive definite", domain.ErrInsufficientData)
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(n, excess)); err != nil {
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	w := mat.Col(nil, 0, &x)
	total := floats.Sum(w)
	if total <= 0 {
		return domain.InfeasibleResult(domain.ReasonDegenerate,
			"posterior portfolio has non-positive net exposure %g", total), nil
	}
	floats.Scale(cfg.Budget.Long/total, w)
	if floats.Min(w) < 0 {
		w = repairBudget(w, cfg.Budget)
	}

	weights, err := domain.NewWeights(returns.Assets(), w)
	if err != nil {
		return domain.Result{}, err
	}
	o.log.Debug().
		Int("views", len(cfg.P)).
		Float64("delta", post.Delta).
		Bool("equilibrium", cfg.Equilibrium).
		Msg("Computed Black-Litterman allocation")
	return domain.Feasible(weights), nil
}
