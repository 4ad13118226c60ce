package optimization

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// FrontierConfig describes an efficient frontier sample.
type FrontierConfig struct {
	// MeanRisk carries the risk measure, budget and moment settings. Its objective and
	// targets are ignored.
	MeanRisk            MeanRiskConfig
	Points              int
	RandomPortfolios    int
	Seed                uint64
	InterpolationPoints int
	Parallelism         int
	// Tangency adds the maximum ratio portfolio and the capital allocation line.
	Tangency bool
}

// DefaultFrontierConfig returns the usual sample sizes around cfg.
func DefaultFrontierConfig(cfg MeanRiskConfig) FrontierConfig {
	return FrontierConfig{
		MeanRisk:            cfg,
		Points:              20,
		RandomPortfolios:    100,
		Seed:                123,
		InterpolationPoints: 100,
		Parallelism:         4,
	}
}

// Validate checks the configuration.
func (c FrontierConfig) Validate() error {
	if c.Points < 2 {
		return fmt.Errorf("%w: a frontier needs at least 2 points, got %d", domain.ErrInvalidConfiguration, c.Points)
	}
	if c.RandomPortfolios < 0 || c.InterpolationPoints < 0 || c.Parallelism < 0 {
		return fmt.Errorf("%w: sample sizes must be non-negative", domain.ErrInvalidConfiguration)
	}
	cfg := c.MeanRisk
	cfg.Objective = MinRisk
	return cfg.Validate()
}

// CurvePoint is a (risk, return) pair.
type CurvePoint struct {
	Risk   float64 `json:"risk" msgpack:"risk"`
	Return float64 `json:"return" msgpack:"return"`
}

// AssetPoint is the stand-alone risk and return of one asset.
type AssetPoint struct {
	Asset  string  `json:"asset" msgpack:"asset"`
	Risk   float64 `json:"risk" msgpack:"risk"`
	Return float64 `json:"return" msgpack:"return"`
}

// Frontier is a sampled efficient frontier. Risks are ratio risks: the standard
// deviation for the variance measure.
type Frontier struct {
	Points                []domain.FrontierPoint `json:"points" msgpack:"points"`
	Curve                 []CurvePoint           `json:"curve" msgpack:"curve"`
	Random                []CurvePoint           `json:"random" msgpack:"random"`
	Tangency              *domain.FrontierPoint  `json:"tangency,omitempty" msgpack:"tangency,omitempty"`
	CapitalAllocationLine []CurvePoint           `json:"capital_allocation_line,omitempty" msgpack:"capital_allocation_line,omitempty"`
	Assets                []AssetPoint           `json:"assets" msgpack:"assets"`
}

// FrontierSampler traces efficient frontiers.
type FrontierSampler struct {
	estimator MomentEstimator
	meanRisk  *MeanRiskOptimizer
	log       zerolog.Logger
}

// NewFrontierSampler creates a frontier sampler.
func NewFrontierSampler(estimator MomentEstimator, log zerolog.Logger) *FrontierSampler {
	return &FrontierSampler{
		estimator: estimator,
		meanRisk:  NewMeanRiskOptimizer(estimator, log),
		log:       log.With().Str("component", "frontier").Logger(),
	}
}

// Sample solves minimum-risk programs for return targets evenly spaced between the
// minimum-risk return and the maximum return. Targets that turn out infeasible are
// skipped.
func (s *FrontierSampler) Sample(ctx context.Context, returns domain.ReturnSeries, cfg FrontierConfig) (Frontier, error) {
	if err := cfg.Validate(); err != nil {
		return Frontier{}, err
	}
	base := cfg.MeanRisk
	base.Objective = MinRisk
	base.TargetReturn, base.TargetRisk = nil, nil

	m, err := estimateMoments(s.estimator, returns, base.momentSource(), base.Risk.Measure == risk.Variance)
	if err != nil {
		return Frontier{}, err
	}
	base.ExpectedReturns = m.mu
	var evalOpts []risk.EvaluatorOption
	if m.cov != nil {
		base.Covariance = m.cov
		evalOpts = append(evalOpts, risk.WithCovariance(m.cov))
	}
	eval, err := risk.NewEvaluator(returns, base.Risk, evalOpts...)
	if err != nil {
		return Frontier{}, err
	}

	minSol, err := s.meanRisk.Solve(returns, base)
	if err != nil {
		return Frontier{}, err
	}
	if !minSol.Result.IsFeasible() {
		inf, _ := minSol.Result.Infeasibility()
		return Frontier{}, fmt.Errorf("%w: minimum-risk portfolio: %s", domain.ErrNonConvergence, inf.Detail)
	}
	_, maxRet := maxReturnPortfolio(m.mu, base.Budget)
	targets := make([]float64, cfg.Points)
	floats.Span(targets, minSol.Return, maxRet)

	solved := make([]*domain.FrontierPoint, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := base
			c.TargetReturn = &target
			sol, err := s.meanRisk.Solve(returns, c)
			if err != nil {
				return fmt.Errorf("frontier point %d: %w", i, err)
			}
			weights, ok := sol.Result.Weights()
			if !ok {
				inf, _ := sol.Result.Infeasibility()
				s.log.Warn().Int("point", i).Float64("target", target).Str("reason", inf.Detail).Msg("Skipping infeasible frontier point")
				return nil
			}
			solved[i] = &domain.FrontierPoint{Return: sol.Return, Weights: weights}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Frontier{}, err
	}

	var out Frontier
	for i, p := range solved {
		if p == nil {
			continue
		}
		p.Risk, err = eval.RatioRisk(p.Weights.Values)
		if err != nil {
			return Frontier{}, err
		}
		if n := len(out.Points); n > 0 && p.Risk < out.Points[n-1].Risk {
			s.log.Debug().Int("point", i).Msg("Dropping dominated frontier point")
			continue
		}
		out.Points = append(out.Points, *p)
	}
	out.Curve = interpolateFrontier(out.Points, cfg.InterpolationPoints)

	out.Random, err = randomPortfolios(eval, m.mu, base.Budget, cfg.RandomPortfolios, cfg.Seed)
	if err != nil {
		return Frontier{}, err
	}
	for j, asset := range returns.Assets() {
		unit := make([]float64, returns.N())
		unit[j] = 1
		r, err := eval.RatioRisk(unit)
		if err != nil {
			return Frontier{}, err
		}
		out.Assets = append(out.Assets, AssetPoint{Asset: asset, Risk: r, Return: m.mu[j]})
	}

	if cfg.Tangency {
		if err := s.tangency(returns, base, eval, &out); err != nil {
			return Frontier{}, err
		}
	}

	s.log.Debug().
		Str("risk_measure", base.Risk.Measure.String()).
		Int("points", len(out.Points)).
		Int("targets", len(targets)).
		Msg("Sampled efficient frontier")
	return out, nil
}

// tangency adds the maximum ratio portfolio and the line from the risk-free rate through
// it.
func (s *FrontierSampler) tangency(returns domain.ReturnSeries, base MeanRiskConfig, eval *risk.Evaluator, out *Frontier) error {
	c := base
	c.Objective = Sharpe
	sol, err := s.meanRisk.Solve(returns, c)
	if err != nil {
		return err
	}
	weights, ok := sol.Result.Weights()
	if !ok {
		inf, _ := sol.Result.Infeasibility()
		s.log.Warn().Str("reason", inf.Detail).Msg("No tangency portfolio")
		return nil
	}
	r, err := eval.RatioRisk(weights.Values)
	if err != nil {
		return err
	}
	out.Tangency = &domain.FrontierPoint{Risk: r, Return: sol.Return, Weights: weights}
	if r <= 0 {
		return nil
	}
	slope := (sol.Return - base.RiskFree) / r
	end := r
	if n := len(out.Points); n > 0 {
		end = max(end, out.Points[n-1].Risk)
	}
	out.CapitalAllocationLine = []CurvePoint{
		{Risk: 0, Return: base.RiskFree},
		{Risk: end, Return: base.RiskFree + slope*end},
	}
	return nil
}

// randomPortfolios draws weights uniformly from the budget simplex.
func randomPortfolios(eval *risk.Evaluator, mu []float64, budget domain.Budget, count int, seed uint64) ([]CurvePoint, error) {
	rng := rand.New(rand.NewPCG(seed, seed))
	n := len(mu)
	draw := func(total float64) []float64 {
		w := make([]float64, n)
		for i := range w {
			w[i] = rng.ExpFloat64()
		}
		floats.Scale(total/floats.Sum(w), w)
		return w
	}

	out := make([]CurvePoint, 0, count)
	for k := 0; k < count; k++ {
		w := draw(budget.Long)
		if budget.AllowsShort() {
			floats.Sub(w, draw(budget.Short))
			w = repairBudget(w, budget)
		}
		r, err := eval.RatioRisk(w)
		if err != nil {
			return nil, err
		}
		out = append(out, CurvePoint{Risk: r, Return: floats.Dot(w, mu)})
	}
	return out, nil
}

// interpolateFrontier resamples return as a piecewise quadratic function of risk at
// evenly spaced risks.
func interpolateFrontier(points []domain.FrontierPoint, samples int) []CurvePoint {
	var xs, ys []float64
	for _, p := range points {
		if len(xs) > 0 && p.Risk <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, p.Risk)
		ys = append(ys, p.Return)
	}
	if samples == 0 || len(xs) == 0 {
		return nil
	}
	if len(xs) == 1 {
		return []CurvePoint{{Risk: xs[0], Return: ys[0]}}
	}

	grid := make([]float64, samples)
	if samples == 1 {
		grid[0] = xs[0]
	} else {
		floats.Span(grid, xs[0], xs[len(xs)-1])
	}
	out := make([]CurvePoint, samples)
	for k, x := range grid {
		j := 0
		for j < len(xs)-2 && x > xs[j+1] {
			j++
		}
		if len(xs) == 2 {
			t := (x - xs[0]) / (xs[1] - xs[0])
			out[k] = CurvePoint{Risk: x, Return: ys[0] + t*(ys[1]-ys[0])}
			continue
		}
		i0 := min(max(j-1, 0), len(xs)-3)
		out[k] = CurvePoint{Risk: x, Return: lagrange3(xs[i0:i0+3], ys[i0:i0+3], x)}
	}
	return out
}

func lagrange3(x, y []float64, at float64) float64 {
	l0 := (at - x[1]) * (at - x[2]) / ((x[0] - x[1]) * (x[0] - x[2]))
	l1 := (at - x[0]) * (at - x[2]) / ((x[1] - x[0]) * (x[1] - x[2]))
	l2 := (at - x[0]) * (at - x[1]) / ((x[2] - x[0]) * (x[2] - x[1]))
	return y[0]*l0 + y[1]*l1 + y[2]*l2
}
