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

// Objective selects what a mean-risk program optimizes.
type Objective int

const (
	MinRisk Objective = iota + 1
	Utility
	Sharpe
	MaxRet
	// ERC is equal risk contribution. It is solved by the risk parity optimizer and is
	// only accepted by the nested clustered model.
	ERC
)

var objectives = map[Objective]struct{ tag, display string }{
	MinRisk: {"MinRisk", "Minimum Risk"},
	Utility: {"Utility", "Maximum Utility"},
	Sharpe:  {"Sharpe", "Maximum Risk Adjusted Return Ratio"},
	MaxRet:  {"MaxRet", "Maximum Return"},
	ERC:     {"ERC", "Equal Risk Contribution"},
}

// ParseObjective resolves an objective tag (case-insensitive).
func ParseObjective(tag string) (Objective, error) {
	for o, info := range objectives {
		if strings.EqualFold(info.tag, tag) {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidConfiguration, tag)
}

func (o Objective) String() string {
	if info, ok := objectives[o]; ok {
		return info.tag
	}
	return fmt.Sprintf("Objective(%d)", int(o))
}

// DisplayName returns the human readable name of the objective.
func (o Objective) DisplayName() string {
	return objectives[o].display
}

// Valid reports whether o is a declared objective.
func (o Objective) Valid() bool {
	_, ok := objectives[o]
	return ok
}

func (o Objective) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: unknown objective %d", domain.ErrInvalidConfiguration, int(o))
	}
	return []byte(o.String()), nil
}

func (o *Objective) UnmarshalText(text []byte) error {
	parsed, err := ParseObjective(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MeanRiskConfig describes one mean-risk program. Build it with NewMeanRiskConfig.
type MeanRiskConfig struct {
	Risk      risk.Spec
	Objective Objective
	// RiskFree is the per-period risk-free rate.
	RiskFree float64
	// RiskAversion is λ in the utility objective.
	RiskAversion float64
	TargetReturn *float64
	TargetRisk   *float64
	Budget       domain.Budget
	MeanMethod   estimation.MeanMethod
	CovMethod    estimation.CovMethod
	DecayFactor  float64
	Solver       SolverSettings

	// ExpectedReturns and Covariance replace the estimated moments when set.
	ExpectedReturns []float64
	Covariance      mat.Symmetric
}

// MeanRiskOption customizes a MeanRiskConfig.
type MeanRiskOption func(*MeanRiskConfig)

func WithRiskFree(rf float64) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.RiskFree = rf }
}

func WithRiskAversion(lambda float64) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.RiskAversion = lambda }
}

func WithTargetReturn(r float64) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.TargetReturn = &r }
}

func WithTargetRisk(r float64) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.TargetRisk = &r }
}

func WithBudget(b domain.Budget) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.Budget = b }
}

func WithMeanMethod(m estimation.MeanMethod) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.MeanMethod = m }
}

func WithCovMethod(m estimation.CovMethod) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.CovMethod = m }
}

func WithDecayFactor(d float64) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.DecayFactor = d }
}

func WithSolverSettings(s SolverSettings) MeanRiskOption {
	return func(c *MeanRiskConfig) { c.Solver = s }
}

// WithMoments fixes the expected returns and, if cov is not nil, the covariance.
func WithMoments(mu []float64, cov mat.Symmetric) MeanRiskOption {
	return func(c *MeanRiskConfig) {
		c.ExpectedReturns = mu
		c.Covariance = cov
	}
}

// NewMeanRiskConfig applies the defaults and the options and validates the result.
func NewMeanRiskConfig(spec risk.Spec, objective Objective, opts ...MeanRiskOption) (MeanRiskConfig, error) {
	cfg := MeanRiskConfig{
		Risk:         spec,
		Objective:    objective,
		RiskAversion: 1,
		Budget:       domain.DefaultBudget(),
		MeanMethod:   estimation.MeanHistorical,
		CovMethod:    estimation.CovHistorical,
		DecayFactor:  estimation.DefaultDecay,
		Solver:       DefaultSolverSettings(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c MeanRiskConfig) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if !c.Risk.Measure.Optimizable() {
		return fmt.Errorf("%w: %s cannot be optimized", domain.ErrInvalidConfiguration, c.Risk.Measure)
	}
	if !c.Objective.Valid() || c.Objective == ERC {
		return fmt.Errorf("%w: unsupported mean-risk objective %s", domain.ErrInvalidConfiguration, c.Objective)
	}
	if !(c.RiskAversion > 0) {
		return fmt.Errorf("%w: risk aversion must be positive, got %v", domain.ErrInvalidConfiguration, c.RiskAversion)
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if !c.MeanMethod.Valid() {
		return fmt.Errorf("%w: unknown mean method %d", domain.ErrInvalidConfiguration, int(c.MeanMethod))
	}
	if !c.CovMethod.Valid() {
		return fmt.Errorf("%w: unknown covariance method %d", domain.ErrInvalidConfiguration, int(c.CovMethod))
	}
	if !(c.DecayFactor > 0 && c.DecayFactor < 1) {
		return fmt.Errorf("%w: decay factor must be in (0, 1), got %v", domain.ErrInvalidConfiguration, c.DecayFactor)
	}
	if c.TargetReturn != nil && math.IsNaN(*c.TargetReturn) {
		return fmt.Errorf("%w: target return is NaN", domain.ErrInvalidConfiguration)
	}
	if c.TargetRisk != nil && !(*c.TargetRisk > 0) {
		return fmt.Errorf("%w: target risk must be positive", domain.ErrInvalidConfiguration)
	}
	if math.IsNaN(c.RiskFree) || math.IsInf(c.RiskFree, 0) {
		return fmt.Errorf("%w: risk-free rate must be finite", domain.ErrInvalidConfiguration)
	}
	return nil
}

func (c MeanRiskConfig) momentSource() momentSource {
	return momentSource{
		meanMethod: c.MeanMethod,
		covMethod:  c.CovMethod,
		decay:      c.DecayFactor,
		mu:         c.ExpectedReturns,
		cov:        c.Covariance,
	}
}

// Solution is a solved mean-risk program.
type Solution struct {
	Result domain.Result
	// Risk is the measure evaluated at the weights.
	Risk float64
	// SurrogateRisk is the smoothed risk the solver minimized, at the weights.
	SurrogateRisk float64
	// Return is the expected per-period return at the weights.
	Return float64
}

// MeanRiskOptimizer solves mean-risk programs.
type MeanRiskOptimizer struct {
	estimator MomentEstimator
	log       zerolog.Logger
}

// NewMeanRiskOptimizer creates a mean-risk optimizer.
func NewMeanRiskOptimizer(estimator MomentEstimator, log zerolog.Logger) *MeanRiskOptimizer {
	return &MeanRiskOptimizer{
		estimator: estimator,
		log:       log.With().Str("component", "mean_risk").Logger(),
	}
}

// Optimize solves the program and returns its result. Infeasible programs are reported in
// the result; errors are configuration or data problems.
func (o *MeanRiskOptimizer) Optimize(returns domain.ReturnSeries, cfg MeanRiskConfig) (domain.Result, error) {
	sol, err := o.Solve(returns, cfg)
	if err != nil {
		return domain.Result{}, err
	}
	return sol.Result, nil
}

// Solve is Optimize with the risk and return of the solution.
func (o *MeanRiskOptimizer) Solve(returns domain.ReturnSeries, cfg MeanRiskConfig) (Solution, error) {
	if err := cfg.Validate(); err != nil {
		return Solution{}, err
	}
	if cfg.Budget.AllowsShort() && returns.N() < 2 {
		return Solution{}, fmt.Errorf("%w: a short budget needs at least 2 assets", domain.ErrInvalidConfiguration)
	}
	m, err := estimateMoments(o.estimator, returns, cfg.momentSource(), cfg.Risk.Measure == risk.Variance)
	if err != nil {
		return Solution{}, err
	}
	p, err := newProgram(returns, cfg, m)
	if err != nil {
		return Solution{}, err
	}

	w, infeasible := p.run()
	if infeasible != nil {
		o.log.Debug().
			Str("objective", cfg.Objective.String()).
			Str("risk_measure", cfg.Risk.Measure.String()).
			Str("reason", infeasible.Reason.String()).
			Msg(infeasible.Detail)
		return Solution{Result: domain.InfeasibleResult(infeasible.Reason, "%s", infeasible.Detail)}, nil
	}

	weights, err := domain.NewWeights(returns.Assets(), w)
	if err != nil {
		return Solution{}, err
	}
	exact, err := p.eval.Risk(w)
	if err != nil {
		return Solution{}, err
	}
	sol := Solution{
		Result:        domain.Feasible(weights),
		Risk:          exact,
		SurrogateRisk: p.eval.Surrogate(w, p.finalTau()),
		Return:        p.ret(w),
	}
	o.log.Debug().
		Str("objective", cfg.Objective.String()).
		Str("risk_measure", cfg.Risk.Measure.String()).
		Int("assets", returns.N()).
		Float64("risk", sol.Risk).
		Float64("return", sol.Return).
		Msg("Solved mean-risk program")
	return sol, nil
}

// program holds one mean-risk problem in normalized form.
type program struct {
	cfg  MeanRiskConfig
	eval *risk.Evaluator
	mu   []float64
	bm   budgetMap

	tauScale  float64
	riskNorm  float64
	ratioNorm float64
	retNorm   float64

	maxW   []float64
	maxRet float64
	minW   []float64
}

func newProgram(returns domain.ReturnSeries, cfg MeanRiskConfig, m moments) (*program, error) {
	var opts []risk.EvaluatorOption
	if m.cov != nil {
		opts = append(opts, risk.WithCovariance(m.cov))
	}
	eval, err := risk.NewEvaluator(returns, cfg.Risk, opts...)
	if err != nil {
		return nil, err
	}
	n := returns.N()
	p := &program{
		cfg:      cfg,
		eval:     eval,
		mu:       m.mu,
		bm:       newBudgetMap(n, cfg.Budget),
		tauScale: typicalVolatility(returns),
	}
	ref := equalWeights(n, cfg.Budget.Long)
	p.riskNorm = positiveOr(p.risk(ref), 1)
	p.ratioNorm = positiveOr(p.ratioRisk(ref), 1)
	p.retNorm = positiveOr(math.Max(floats.Max(m.mu), -floats.Min(m.mu))*(cfg.Budget.Long+cfg.Budget.Short), 1e-12)
	p.maxW, p.maxRet = maxReturnPortfolio(m.mu, cfg.Budget)
	return p, nil
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 && !math.IsInf(v, 0) {
		return v
	}
	return fallback
}

func (p *program) finalTau() float64 {
	return continuation[len(continuation)-1].tau * p.tauScale
}

func (p *program) ret(w []float64) float64 {
	return floats.Dot(w, p.mu)
}

func (p *program) risk(w []float64) float64 {
	v, err := p.eval.Risk(w)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (p *program) ratioRisk(w []float64) float64 {
	v, err := p.eval.RatioRisk(w)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (p *program) surrogate(w []float64, tau float64) float64 {
	return p.eval.Surrogate(w, tau)
}

func (p *program) ratioSurrogate(w []float64, tau float64) float64 {
	v := p.eval.Surrogate(w, tau)
	if p.cfg.Risk.Measure == risk.Variance {
		return math.Sqrt(math.Max(v, 0))
	}
	return v
}

// penalties returns the constraint violations weighted by rho.
func (p *program) penalties(w []float64, tau, rho float64, floor, ceiling *float64) float64 {
	pen := 0.0
	if floor != nil {
		pen += rho * hinge2((*floor-p.ret(w))/p.retNorm)
	}
	if ceiling != nil {
		pen += rho * hinge2(p.ratioSurrogate(w, tau) / *ceiling - 1)
	}
	return pen
}

func (p *program) start() []float64 {
	if p.cfg.Budget.AllowsShort() {
		return p.bm.start(p.maxW)
	}
	return p.bm.start(nil)
}

func (p *program) minRiskObjective(floor, ceiling *float64) func(stage) objective {
	return func(s stage) objective {
		tau := s.tau * p.tauScale
		return objective{value: func(w []float64) float64 {
			return p.surrogate(w, tau)/p.riskNorm + p.penalties(w, tau, s.penalty, floor, ceiling)
		}}
	}
}

func (p *program) utilityObjective(floor, ceiling *float64) func(stage) objective {
	lambda := p.cfg.RiskAversion
	norm := math.Max(p.retNorm, lambda*p.riskNorm)
	return func(s stage) objective {
		tau := s.tau * p.tauScale
		return objective{value: func(w []float64) float64 {
			return (lambda*p.surrogate(w, tau)-p.ret(w))/norm + p.penalties(w, tau, s.penalty, floor, ceiling)
		}}
	}
}

func (p *program) maxReturnObjective(floor, ceiling *float64) func(stage) objective {
	return func(s stage) objective {
		tau := s.tau * p.tauScale
		return objective{value: func(w []float64) float64 {
			return -p.ret(w)/p.retNorm + p.penalties(w, tau, s.penalty, floor, ceiling)
		}}
	}
}

// parametricObjective is the Dinkelbach subproblem of the ratio objective at theta.
func (p *program) parametricObjective(theta float64, floor, ceiling *float64) func(stage) objective {
	norm := math.Max(p.retNorm, theta*p.ratioNorm)
	rf := p.cfg.RiskFree
	return func(s stage) objective {
		tau := s.tau * p.tauScale
		return objective{value: func(w []float64) float64 {
			return (theta*p.ratioSurrogate(w, tau)-(p.ret(w)-rf))/norm + p.penalties(w, tau, s.penalty, floor, ceiling)
		}}
	}
}

func (p *program) ratio(w []float64) float64 {
	r := p.ratioRisk(w)
	excess := p.ret(w) - p.cfg.RiskFree
	if r <= 0 {
		if excess > 0 {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return excess / r
}

// run solves the program. A non-nil Infeasibility reports why no weights were produced.
func (p *program) run() ([]float64, *domain.Infeasibility) {
	cfg := p.cfg
	floor, ceiling := cfg.TargetReturn, cfg.TargetRisk

	if floor != nil && *floor > p.maxRet+1e-12*(1+math.Abs(p.maxRet)) {
		return nil, &domain.Infeasibility{
			Reason: domain.ReasonConstraints,
			Detail: fmt.Sprintf("target return %g exceeds the maximum achievable return %g", *floor, p.maxRet),
		}
	}
	if cfg.Objective == Sharpe && p.maxRet <= cfg.RiskFree {
		return nil, &domain.Infeasibility{
			Reason: domain.ReasonConstraints,
			Detail: fmt.Sprintf("no portfolio returns more than the risk-free rate %g", cfg.RiskFree),
		}
	}
	if ceiling != nil {
		minW, err := continuationSolve(p.bm, p.start(), cfg.Solver, p.minRiskObjective(floor, nil))
		if err != nil {
			return nil, nonConvergence(err)
		}
		minW = p.repairReturn(repairBudget(minW, cfg.Budget), floor)
		if r := p.ratioRisk(minW); r > *ceiling*(1+1e-6) {
			return nil, &domain.Infeasibility{
				Reason: domain.ReasonConstraints,
				Detail: fmt.Sprintf("minimum achievable risk %g exceeds the target risk %g", r, *ceiling),
			}
		}
		p.minW = minW
	}

	var (
		w   []float64
		err error
	)
	switch cfg.Objective {
	case MinRisk:
		w, err = continuationSolve(p.bm, p.start(), cfg.Solver, p.minRiskObjective(floor, ceiling))
	case Utility:
		w, err = continuationSolve(p.bm, p.start(), cfg.Solver, p.utilityObjective(floor, ceiling))
	case MaxRet:
		if ceiling == nil {
			return append([]float64(nil), p.maxW...), nil
		}
		w, err = continuationSolve(p.bm, p.bm.start(p.maxW), cfg.Solver, p.maxReturnObjective(floor, ceiling))
	case Sharpe:
		w, err = p.dinkelbach(floor, ceiling)
	}
	if err != nil {
		return nil, nonConvergence(err)
	}
	return p.repair(w, floor, ceiling)
}

func nonConvergence(err error) *domain.Infeasibility {
	return &domain.Infeasibility{Reason: domain.ReasonNonConvergence, Detail: err.Error()}
}

// dinkelbach maximizes (ret - rf)/risk by solving ret - rf - θ·risk for an increasing θ
// until the ratio stops improving.
func (p *program) dinkelbach(floor, ceiling *float64) ([]float64, error) {
	w := equalWeights(p.bm.n, p.cfg.Budget.Long)
	if p.cfg.Budget.AllowsShort() || p.ratio(p.maxW) > p.ratio(w) {
		w = append([]float64(nil), p.maxW...)
	}
	theta := p.ratio(w)
	if math.IsInf(theta, 1) {
		return w, nil
	}
	theta = math.Max(theta, 0)

	for it := 0; it < 50; it++ {
		next, err := continuationSolve(p.bm, p.bm.start(w), p.cfg.Solver, p.parametricObjective(theta, floor, ceiling))
		if err != nil {
			if it == 0 {
				return nil, err
			}
			break
		}
		next = repairBudget(next, p.cfg.Budget)
		improved := p.ratio(next)
		if !(improved > theta+1e-9*(1+math.Abs(theta))) {
			if improved > theta {
				w = next
			}
			break
		}
		w, theta = next, improved
	}
	return w, nil
}

// repair moves w back onto the budget and into the return and risk constraints.
func (p *program) repair(w []float64, floor, ceiling *float64) ([]float64, *domain.Infeasibility) {
	w = repairBudget(w, p.cfg.Budget)
	w = p.repairReturn(w, floor)
	if ceiling != nil && p.ratioRisk(w) > *ceiling && p.minW != nil {
		// Risk is convex along the segment to the minimum-risk portfolio.
		lo, hi := 0.0, 1.0
		for i := 0; i < 60; i++ {
			mid := 0.5 * (lo + hi)
			if p.ratioRisk(blend(w, p.minW, mid)) > *ceiling {
				lo = mid
			} else {
				hi = mid
			}
		}
		w = repairBudget(blend(w, p.minW, hi), p.cfg.Budget)
	}

	if floor != nil && p.ret(w) < *floor-1e-9*(1+math.Abs(*floor)) {
		return nil, &domain.Infeasibility{
			Reason: domain.ReasonConstraints,
			Detail: fmt.Sprintf("return %g misses the target %g", p.ret(w), *floor),
		}
	}
	if ceiling != nil && p.ratioRisk(w) > *ceiling*(1+1e-6) {
		return nil, &domain.Infeasibility{
			Reason: domain.ReasonConstraints,
			Detail: fmt.Sprintf("risk %g exceeds the target %g", p.ratioRisk(w), *ceiling),
		}
	}
	return w, nil
}

// repairReturn blends w toward the maximum-return portfolio until it meets the floor.
func (p *program) repairReturn(w []float64, floor *float64) []float64 {
	return raiseReturn(w, p.mu, floor, p.maxW, p.cfg.Budget)
}

// raiseReturn blends w toward maxW, the maximum-return portfolio, until its expected
// return reaches floor.
func raiseReturn(w, mu []float64, floor *float64, maxW []float64, budget domain.Budget) []float64 {
	if floor == nil {
		return w
	}
	top := floats.Dot(maxW, mu)
	for i := 0; i < 3 && floats.Dot(w, mu) < *floor; i++ {
		gap := top - floats.Dot(w, mu)
		if gap <= 0 {
			break
		}
		t := math.Min((*floor-floats.Dot(w, mu))/gap*(1+1e-9), 1)
		w = repairBudget(blend(w, maxW, t), budget)
	}
	if floats.Dot(w, mu) < *floor {
		w = append([]float64(nil), maxW...)
	}
	return w
}

func blend(a, b []float64, t float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (1-t)*a[i] + t*b[i]
	}
	return out
}
