package optimization

import (
	"fmt"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/aristath/allocator/pkg/formulas"
	"github.com/rs/zerolog"
)

// DiversificationConfig parametrizes the diversification programs.
type DiversificationConfig struct {
	Budget      domain.Budget
	CovMethod   estimation.CovMethod
	DecayFactor float64
	Solver      SolverSettings
}

func (c DiversificationConfig) withDefaults() DiversificationConfig {
	if c.Budget == (domain.Budget{}) {
		c.Budget = domain.DefaultBudget()
	}
	if c.CovMethod == 0 {
		c.CovMethod = estimation.CovHistorical
	}
	if c.DecayFactor == 0 {
		c.DecayFactor = estimation.DefaultDecay
	}
	return c
}

// DiversificationOptimizer solves the maximum diversification and maximum decorrelation
// programs.
type DiversificationOptimizer struct {
	estimator MomentEstimator
	meanRisk  *MeanRiskOptimizer
	log       zerolog.Logger
}

// NewDiversificationOptimizer creates a diversification optimizer.
func NewDiversificationOptimizer(estimator MomentEstimator, log zerolog.Logger) *DiversificationOptimizer {
	return &DiversificationOptimizer{
		estimator: estimator,
		meanRisk:  NewMeanRiskOptimizer(estimator, log),
		log:       log.With().Str("component", "diversification").Logger(),
	}
}

// MaxDiversification maximizes the diversification ratio (w·σ)/√(wᵀΣw). It is the
// maximum Sharpe program with the volatilities as expected returns and no risk-free rate.
func (o *DiversificationOptimizer) MaxDiversification(returns domain.ReturnSeries, cfg DiversificationConfig) (domain.Result, error) {
	cfg = cfg.withDefaults()
	cov, err := o.estimator.Covariance(returns, estimation.CovarianceOptions{Method: cfg.CovMethod, Decay: cfg.DecayFactor})
	if err != nil {
		return domain.Result{}, fmt.Errorf("covariance: %w", err)
	}
	mr, err := NewMeanRiskConfig(risk.MustSpec(risk.Variance), Sharpe,
		WithBudget(cfg.Budget),
		WithSolverSettings(cfg.Solver),
		WithMoments(formulas.StdDevs(cov), cov),
	)
	if err != nil {
		return domain.Result{}, err
	}
	o.log.Debug().Int("assets", returns.N()).Msg("Solving maximum diversification")
	return o.meanRisk.Optimize(returns, mr)
}

// MaxDecorrelation minimizes wᵀCw over the correlation matrix C.
func (o *DiversificationOptimizer) MaxDecorrelation(returns domain.ReturnSeries, cfg DiversificationConfig) (domain.Result, error) {
	cfg = cfg.withDefaults()
	cov, err := o.estimator.Covariance(returns, estimation.CovarianceOptions{Method: cfg.CovMethod, Decay: cfg.DecayFactor})
	if err != nil {
		return domain.Result{}, fmt.Errorf("covariance: %w", err)
	}
	corr, err := formulas.CorrelationFromCovariance(cov)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	mr, err := NewMeanRiskConfig(risk.MustSpec(risk.Variance), MinRisk,
		WithBudget(cfg.Budget),
		WithSolverSettings(cfg.Solver),
		WithMoments(make([]float64, returns.N()), corr),
	)
	if err != nil {
		return domain.Result{}, err
	}
	o.log.Debug().Int("assets", returns.N()).Msg("Solving maximum decorrelation")
	return o.meanRisk.Optimize(returns, mr)
}
