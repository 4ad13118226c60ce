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
	"gonum.org/v1/gonum/optimize"
)

// RiskParityConfig describes a risk budgeting program.
type RiskParityConfig struct {
	Risk risk.Spec
	// Budgets are the target risk shares; nil means equal shares.
	Budgets      []float64
	TargetReturn *float64
	// Long is the invested budget; zero means 1.
	Long        float64
	MeanMethod  estimation.MeanMethod
	CovMethod   estimation.CovMethod
	DecayFactor float64
	Solver      SolverSettings

	ExpectedReturns []float64
	Covariance      mat.Symmetric
}

func (c RiskParityConfig) withDefaults() RiskParityConfig {
	if c.Long == 0 {
		c.Long = 1
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
func (c RiskParityConfig) Validate(n int) error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if !c.Risk.Measure.SupportsRiskParity() {
		return fmt.Errorf("%w: %s cannot be used for risk parity", domain.ErrInvalidConfiguration, c.Risk.Measure)
	}
	if !(c.Long > 0) || math.IsInf(c.Long, 0) {
		return fmt.Errorf("%w: long budget must be positive, got %v", domain.ErrInvalidConfiguration, c.Long)
	}
	if _, err := riskBudgets(c.Budgets, n); err != nil {
		return err
	}
	if c.TargetReturn != nil && math.IsNaN(*c.TargetReturn) {
		return fmt.Errorf("%w: target return is NaN", domain.ErrInvalidConfiguration)
	}
	if !(c.DecayFactor > 0 && c.DecayFactor < 1) {
		return fmt.Errorf("%w: decay factor must be in (0, 1), got %v", domain.ErrInvalidConfiguration, c.DecayFactor)
	}
	return nil
}

func (c RiskParityConfig) momentSource() momentSource {
	return momentSource{
		meanMethod: c.MeanMethod,
		covMethod:  c.CovMethod,
		decay:      c.DecayFactor,
		mu:         c.ExpectedReturns,
		cov:        c.Covariance,
	}
}

// riskBudgets validates and normalizes risk shares.
func riskBudgets(b []float64, n int) ([]float64, error) {
	if b == nil {
		return equalWeights(n, 1), nil
	}
	if len(b) != n {
		return nil, fmt.Errorf("%w: %d risk budgets for %d assets", domain.ErrInvalidConfiguration, len(b), n)
	}
	for i, v := range b {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: risk budget %d must be positive, got %v", domain.ErrInvalidConfiguration, i, v)
		}
	}
	out := append([]float64(nil), b...)
	floats.Scale(1/floats.Sum(out), out)
	return out, nil
}

// RiskParityOptimizer allocates so that each asset contributes its budgeted share of risk.
type RiskParityOptimizer struct {
	estimator MomentEstimator
	log       zerolog.Logger
}

// NewRiskParityOptimizer creates a risk parity optimizer.
func NewRiskParityOptimizer(estimator MomentEstimator, log zerolog.Logger) *RiskParityOptimizer {
	return &RiskParityOptimizer{
		estimator: estimator,
		log:       log.With().Str("component", "risk_parity").Logger(),
	}
}

// Optimize minimizes risk(y) - Σ bᵢ ln yᵢ over y > 0 and scales y to the long budget.
func (o *RiskParityOptimizer) Optimize(returns domain.ReturnSeries, cfg RiskParityConfig) (domain.Result, error) {
	cfg = cfg.withDefaults()
	n := returns.N()
	if err := cfg.Validate(n); err != nil {
		return domain.Result{}, err
	}
	b, _ := riskBudgets(cfg.Budgets, n)
	m, err := estimateMoments(o.estimator, returns, cfg.momentSource(), cfg.Risk.Measure == risk.Variance)
	if err != nil {
		return domain.Result{}, err
	}
	var opts []risk.EvaluatorOption
	if m.cov != nil {
		opts = append(opts, risk.WithCovariance(m.cov))
	}
	eval, err := risk.NewEvaluator(returns, cfg.Risk, opts...)
	if err != nil {
		return domain.Result{}, err
	}

	budget := domain.Budget{Long: cfg.Long}
	maxW, maxRet := maxReturnPortfolio(m.mu, budget)
	if cfg.TargetReturn != nil && *cfg.TargetReturn > maxRet+1e-12*(1+math.Abs(maxRet)) {
		return domain.InfeasibleResult(domain.ReasonConstraints,
			"target return %g exceeds the maximum achievable return %g", *cfg.TargetReturn, maxRet), nil
	}

	y, err := solveRiskBudgeting(eval, m.mu, b, cfg.TargetReturn, cfg.Long, typicalVolatility(returns), cfg.Solver)
	if err != nil {
		o.log.Debug().Err(err).Str("risk_measure", cfg.Risk.Measure.String()).Msg("Risk parity did not converge")
		return domain.InfeasibleResult(domain.ReasonNonConvergence, "%v", err), nil
	}
	w := make([]float64, n)
	floats.ScaleTo(w, cfg.Long/floats.Sum(y), y)
	w = raiseReturn(w, m.mu, cfg.TargetReturn, maxW, budget)

	weights, err := domain.NewWeights(returns.Assets(), w)
	if err != nil {
		return domain.Result{}, err
	}
	o.log.Debug().
		Str("risk_measure", cfg.Risk.Measure.String()).
		Int("assets", n).
		Msg("Solved risk parity program")
	return domain.Feasible(weights), nil
}

// solveRiskBudgeting returns unnormalized positive weights whose risk contributions are
// proportional to b. The risk is divided by the risk of the equal-weight portfolio at the
// long budget, so the optimum lies near that budget; for homogeneous measures the scale
// only rescales the solution.
func solveRiskBudgeting(eval *risk.Evaluator, mu, b []float64, floor *float64, long, vol float64, settings SolverSettings) ([]float64, error) {
	n := len(b)
	isVariance := eval.Spec().Measure == risk.Variance
	retNorm := positiveOr(math.Max(floats.Max(mu), -floats.Min(mu)), 1e-12)

	scale, err := eval.RatioRisk(equalWeights(n, long))
	if err != nil {
		return nil, err
	}
	scale = positiveOr(scale, 1)

	x := make([]float64, n)
	for i := range x {
		unit := make([]float64, n)
		unit[i] = 1
		r, err := eval.RatioRisk(unit)
		if err != nil {
			return nil, err
		}
		x[i] = math.Log(scale * b[i] / positiveOr(r, 1))
	}

	for si, s := range continuation {
		tau := s.tau * vol
		rho := s.penalty
		f := func(x []float64) float64 {
			y := make([]float64, n)
			for i, v := range x {
				y[i] = math.Exp(v)
			}
			r := eval.Surrogate(y, tau)
			if isVariance {
				r = math.Sqrt(math.Max(r, 0))
			}
			value := r/scale - floats.Dot(b, x)
			if floor != nil {
				value += rho * hinge2((*floor-floats.Dot(y, mu)/floats.Sum(y))/retNorm)
			}
			return value
		}
		problem := optimize.Problem{
			Func: f,
			Grad: func(grad, x []float64) {
				objective{value: f}.gradient(grad, x)
			},
		}
		next, err := minimize(problem, x, settings)
		if err != nil && si == len(continuation)-1 {
			return nil, err
		}
		if finite(next) {
			x = next
		}
	}

	y := make([]float64, n)
	for i, v := range x {
		y[i] = math.Exp(v)
	}
	return y, nil
}
