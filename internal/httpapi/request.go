package httpapi

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/performance"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/shopspring/decimal"
)

// RiskSpec selects a risk measure. Zero fields take the engine defaults.
type RiskSpec struct {
	Measure   string  `json:"measure,omitempty"`
	Alpha     float64 `json:"alpha,omitempty"`
	Beta      float64 `json:"beta,omitempty"`
	ASim      int     `json:"a_sim,omitempty"`
	BSim      int     `json:"b_sim,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Spec resolves the request into a risk.Spec; an empty measure means variance.
func (s RiskSpec) Spec(engine config.EngineConfig) (risk.Spec, error) {
	m := risk.Variance
	if s.Measure != "" {
		parsed, err := risk.ParseMeasure(s.Measure)
		if err != nil {
			return risk.Spec{}, err
		}
		m = parsed
	}
	alpha := s.Alpha
	if alpha == 0 {
		alpha = engine.Alpha
	}
	opts := []risk.Option{risk.WithAlpha(alpha), risk.WithThreshold(s.Threshold)}
	if s.Beta != 0 {
		opts = append(opts, risk.WithBeta(s.Beta))
	}
	if s.ASim != 0 || s.BSim != 0 {
		aSim := s.ASim
		if aSim == 0 {
			aSim = risk.DefaultSimulations
		}
		opts = append(opts, risk.WithSimulations(aSim, s.BSim))
	}
	return risk.NewSpec(m, opts...)
}

// Estimation selects the moment estimators.
type Estimation struct {
	MeanMethod  string  `json:"mean_method,omitempty"`
	CovMethod   string  `json:"cov_method,omitempty"`
	DecayFactor float64 `json:"decay_factor,omitempty"`
}

// Methods resolves the estimator tags, defaulting to the historical estimators.
func (e Estimation) Methods(engine config.EngineConfig) (estimation.MeanMethod, estimation.CovMethod, float64, error) {
	mean, cov := estimation.MeanHistorical, estimation.CovHistorical
	var err error
	if e.MeanMethod != "" {
		if mean, err = estimation.ParseMeanMethod(e.MeanMethod); err != nil {
			return 0, 0, 0, err
		}
	}
	if e.CovMethod != "" {
		if cov, err = estimation.ParseCovMethod(e.CovMethod); err != nil {
			return 0, 0, 0, err
		}
	}
	decay := e.DecayFactor
	if decay == 0 {
		decay = engine.DecayFactor
	}
	return mean, cov, decay, nil
}

// Market carries the annual risk-free rate and the sampling frequency of the returns.
type Market struct {
	RiskFree  float64 `json:"risk_free,omitempty"`
	Frequency string  `json:"frequency,omitempty"`
}

// Resolve returns the scale annual figures are converted with.
func (m Market) Resolve(engine config.EngineConfig) (Scale, error) {
	tag := m.Frequency
	if tag == "" {
		tag = engine.Frequency
	}
	freq, err := performance.ParseFrequency(tag)
	if err != nil {
		return Scale{}, err
	}
	return Scale{Frequency: freq, AnnualRiskFree: m.RiskFree}, nil
}

// Scale converts annual request figures to the per-period scale of the returns.
type Scale struct {
	Frequency      performance.Frequency
	AnnualRiskFree float64
}

func (s Scale) periods() float64 {
	return float64(s.Frequency.PeriodsPerYear())
}

// RiskFree is the per-period risk-free rate.
func (s Scale) RiskFree() float64 {
	return s.AnnualRiskFree / s.periods()
}

// Return converts an annual return.
func (s Scale) Return(annual *float64) *float64 {
	if annual == nil {
		return nil
	}
	v := *annual / s.periods()
	return &v
}

// Risk converts an annual risk. Drawdown measures are path quantities and keep their
// scale; the others shrink by the square root of time.
func (s Scale) Risk(annual *float64, m risk.Measure) *float64 {
	if annual == nil {
		return nil
	}
	v := *annual
	if !m.Drawdown() {
		v /= math.Sqrt(s.periods())
	}
	return &v
}

// Performance reports w on the annual scale.
func (s Scale) Performance(w []float64, series domain.ReturnSeries, spec risk.Spec) (performance.Performance, error) {
	return performance.Report(w, series, spec, performance.Options{Frequency: s.Frequency, RiskFree: s.AnnualRiskFree})
}

// Budget is the long and short exposure; a missing long budget means 1.
type Budget struct {
	Long  *float64 `json:"long,omitempty"`
	Short float64  `json:"short,omitempty"`
}

// Resolve converts and validates the budget.
func (b Budget) Resolve() (domain.Budget, error) {
	out := domain.Budget{Long: 1, Short: b.Short}
	if b.Long != nil {
		out.Long = *b.Long
	}
	if err := out.Validate(); err != nil {
		return domain.Budget{}, err
	}
	return out, nil
}

// RequireAssets checks a per-asset vector has one entry per asset.
func RequireAssets(name string, values []float64, n int) error {
	if values != nil && len(values) != n {
		return fmt.Errorf("%w: %d %s for %d assets", domain.ErrInvalidConfiguration, len(values), name, n)
	}
	return nil
}

// Allocation asks for the weights to be turned into money amounts.
type Allocation struct {
	Capital  string `json:"capital"`
	Currency string `json:"currency,omitempty"`
	// Places is the number of decimals of the currency unit; nil means 2.
	Places *int32 `json:"places,omitempty"`
}

// Plan splits the capital across w.
func (a Allocation) Plan(w domain.Weights) (allocation.Plan, error) {
	capital, err := decimal.NewFromString(a.Capital)
	if err != nil {
		return allocation.Plan{}, fmt.Errorf("%w: invalid capital %q", domain.ErrInvalidConfiguration, a.Capital)
	}
	currency := domain.CurrencyEUR
	switch c := domain.Currency(strings.ToUpper(a.Currency)); c {
	case "":
	case domain.CurrencyEUR, domain.CurrencyUSD, domain.CurrencyGBP:
		currency = c
	default:
		return allocation.Plan{}, fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidConfiguration, a.Currency)
	}
	places := int32(2)
	if a.Places != nil {
		places = *a.Places
	}
	return allocation.Split(w, capital, currency, places)
}
