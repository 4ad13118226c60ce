package optimization

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RelaxedVersion selects how far a relaxed risk parity program departs from strict parity.
type RelaxedVersion int

const (
	// RelaxedA matches the risk shares in least squares.
	RelaxedA RelaxedVersion = iota + 1
	// RelaxedB adds a concentration penalty.
	RelaxedB
	// RelaxedC also penalizes volatility above the strict risk parity volatility.
	RelaxedC
)

var relaxedTags = map[RelaxedVersion]string{RelaxedA: "A", RelaxedB: "B", RelaxedC: "C"}

// ParseRelaxedVersion resolves A, B or C.
func ParseRelaxedVersion(tag string) (RelaxedVersion, error) {
	for v, t := range relaxedTags {
		if strings.EqualFold(t, tag) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown relaxed risk parity version %q", domain.ErrInvalidConfiguration, tag)
}

func (v RelaxedVersion) String() string {
	if t, ok := relaxedTags[v]; ok {
		return t
	}
	return fmt.Sprintf("RelaxedVersion(%d)", int(v))
}

// Valid reports whether v is a declared version.
func (v RelaxedVersion) Valid() bool {
	_, ok := relaxedTags[v]
	return ok
}

// RelaxedRiskParityConfig describes a relaxed risk parity program over the covariance.
type RelaxedRiskParityConfig struct {
	Version       RelaxedVersion
	Budgets       []float64
	PenaltyFactor float64
	TargetReturn  *float64
	Long          float64
	MeanMethod    estimation.MeanMethod
	CovMethod     estimation.CovMethod
	DecayFactor   float64
	Solver        SolverSettings

	ExpectedReturns []float64
	Covariance      mat.Symmetric
}

func (c RelaxedRiskParityConfig) withDefaults() RelaxedRiskParityConfig {
	if c.Version == 0 {
		c.Version = RelaxedA
	}
	if c.PenaltyFactor == 0 {
		c.PenaltyFactor = 1
	}
	return c
}

// strict returns the matching strict risk parity program.
func (c RelaxedRiskParityConfig) strict() RiskParityConfig {
	return RiskParityConfig{
		Risk:            risk.MustSpec(risk.Variance),
		Budgets:         c.Budgets,
		TargetReturn:    c.TargetReturn,
		Long:            c.Long,
		MeanMethod:      c.MeanMethod,
		CovMethod:       c.CovMethod,
		DecayFactor:     c.DecayFactor,
		Solver:          c.Solver,
		ExpectedReturns: c.ExpectedReturns,
		Covariance:      c.Covariance,
	}.withDefaults()
}

// Validate checks the configuration against a universe of n assets.
func (c RelaxedRiskParityConfig) Validate(n int) error {
	if !c.Version.Valid() {
		return fmt.Errorf("%w: unknown relaxed risk parity version %d", domain.ErrInvalidConfiguration, int(c.Version))
	}
	if !(c.PenaltyFactor > 0) {
		return fmt.Errorf("%w: penalty factor must be positive, got %v", domain.ErrInvalidConfiguration, c.PenaltyFactor)
	}
	return c.strict().Validate(n)
}

// RelaxedRiskParityOptimizer trades exact risk parity for diversification or volatility.
type RelaxedRiskParityOptimizer struct {
	estimator MomentEstimator
	parity    *RiskParityOptimizer
	log       zerolog.Logger
}

// NewRelaxedRiskParityOptimizer creates a relaxed risk parity optimizer.
func NewRelaxedRiskParityOptimizer(estimator MomentEstimator, log zerolog.Logger) *RelaxedRiskParityOptimizer {
	return &RelaxedRiskParityOptimizer{
		estimator: estimator,
		parity:    NewRiskParityOptimizer(estimator, log),
		log:       log.With().Str("component", "relaxed_risk_parity").Logger(),
	}
}

// Optimize solves the relaxed program.
func (o *RelaxedRiskParityOptimizer) Optimize(returns domain.ReturnSeries, cfg RelaxedRiskParityConfig) (domain.Result, error) {
	cfg = cfg.withDefaults()
	n := returns.N()
	if err := cfg.Validate(n); err != nil {
		return domain.Result{}, err
	}
	strict := cfg.strict()
	b, _ := riskBudgets(strict.Budgets, n)
	m, err := estimateMoments(o.estimator, returns, strict.momentSource(), true)
	if err != nil {
		return domain.Result{}, err
	}
	budget := domain.Budget{Long: strict.Long}
	maxW, maxRet := maxReturnPortfolio(m.mu, budget)
	if cfg.TargetReturn != nil && *cfg.TargetReturn > maxRet+1e-12*(1+math.Abs(maxRet)) {
		return domain.InfeasibleResult(domain.ReasonConstraints,
			"target return %g exceeds the maximum achievable return %g", *cfg.TargetReturn, maxRet), nil
	}

	// The strict solution anchors version C and warm starts every version.
	strict.Covariance = m.cov
	strict.ExpectedReturns = m.mu
	anchor, err := o.parity.Optimize(returns, strict)
	if err != nil {
		return domain.Result{}, err
	}
	anchorW, ok := anchor.Weights()
	if !ok {
		return anchor, nil
	}
	rpVol := portfolioVolatility(m.cov, anchorW.Values)

	retNorm := positiveOr(math.Max(floats.Max(m.mu), -floats.Min(m.mu))*strict.Long, 1e-12)
	bm := newBudgetMap(n, budget)
	build := func(s stage) objective {
		return objective{value: func(w []float64) float64 {
			v := shareMismatch(m.cov, w, b)
			if cfg.Version >= RelaxedB {
				v += herfindahl(w, strict.Long) - 1/float64(n)
			}
			if cfg.Version == RelaxedC && rpVol > 0 {
				v += cfg.PenaltyFactor * hinge2(portfolioVolatility(m.cov, w)/rpVol-1)
			}
			if cfg.TargetReturn != nil {
				v += s.penalty * hinge2((*cfg.TargetReturn-floats.Dot(w, m.mu))/retNorm)
			}
			return v
		}}
	}
	w, err := continuationSolve(bm, bm.start(anchorW.Values), strict.Solver, build)
	if err != nil {
		return domain.InfeasibleResult(domain.ReasonNonConvergence, "%v", err), nil
	}
	w = raiseReturn(repairBudget(w, budget), m.mu, cfg.TargetReturn, maxW, budget)

	weights, err := domain.NewWeights(returns.Assets(), w)
	if err != nil {
		return domain.Result{}, err
	}
	o.log.Debug().
		Str("version", cfg.Version.String()).
		Int("assets", n).
		Float64("parity_volatility", rpVol).
		Msg("Solved relaxed risk parity program")
	return domain.Feasible(weights), nil
}

func portfolioVolatility(cov mat.Symmetric, w []float64) float64 {
	x := mat.NewVecDense(len(w), w)
	return math.Sqrt(math.Max(mat.Inner(x, cov, x), 0))
}

// shareMismatch is Σ (sᵢ - bᵢ)² with sᵢ the variance share of asset i.
func shareMismatch(cov mat.Symmetric, w, b []float64) float64 {
	x := mat.NewVecDense(len(w), w)
	sx := mat.NewVecDense(len(w), nil)
	sx.MulVec(cov, x)
	total := mat.Dot(x, sx)
	if total <= 0 {
		return floats.Dot(b, b)
	}
	sum := 0.0
	for i := range w {
		d := w[i]*sx.AtVec(i)/total - b[i]
		sum += d * d
	}
	return sum
}

// herfindahl is the concentration Σ (wᵢ/long)².
func herfindahl(w []float64, long float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += (v / long) * (v / long)
	}
	return sum
}
