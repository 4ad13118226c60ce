// Package performance annualizes the expected return and risk of a portfolio.
package performance

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/risk"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Frequency is the sampling frequency of the return series.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
)

var frequencies = map[Frequency]struct {
	tag     string
	periods int
}{
	Daily:   {"D", 252},
	Weekly:  {"W", 52},
	Monthly: {"M", 12},
}

// ParseFrequency resolves D, W or M.
func ParseFrequency(tag string) (Frequency, error) {
	for f, info := range frequencies {
		if strings.EqualFold(info.tag, tag) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown frequency %q", domain.ErrInvalidConfiguration, tag)
}

func (f Frequency) String() string {
	if info, ok := frequencies[f]; ok {
		return info.tag
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// PeriodsPerYear is the annualization factor of the frequency.
func (f Frequency) PeriodsPerYear() int {
	return frequencies[f].periods
}

// Valid reports whether f is a declared frequency.
func (f Frequency) Valid() bool {
	_, ok := frequencies[f]
	return ok
}

// Performance is the annualized profile of a portfolio. A riskless portfolio has an
// infinite ratio signed by its excess return, or NaN when that is zero too; JSON carries
// either as a null ratio.
type Performance struct {
	AnnualizedReturn float64      `json:"annualized_return"`
	AnnualizedRisk   float64      `json:"annualized_risk"`
	Ratio            float64      `json:"ratio"`
	RiskMeasure      risk.Measure `json:"risk_measure"`
}

// Options parametrize Report.
type Options struct {
	Frequency Frequency
	// RiskFree is the annual risk-free rate.
	RiskFree float64
	// ExpectedReturns overrides the per-period sample means.
	ExpectedReturns []float64
	// Covariance overrides the sample covariance for the variance measure.
	Covariance mat.Symmetric
}

// Report annualizes the expected return and the ratio risk of w. Drawdown measures are
// path quantities and are not scaled by the square root of time.
func Report(w []float64, returns domain.ReturnSeries, spec risk.Spec, opts Options) (Performance, error) {
	if opts.Frequency == 0 {
		opts.Frequency = Daily
	}
	if !opts.Frequency.Valid() {
		return Performance{}, fmt.Errorf("%w: unknown frequency %d", domain.ErrInvalidConfiguration, int(opts.Frequency))
	}
	if len(w) != returns.N() {
		return Performance{}, fmt.Errorf("%w: %d weights for %d assets", domain.ErrInvalidConfiguration, len(w), returns.N())
	}

	var evalOpts []risk.EvaluatorOption
	if opts.Covariance != nil {
		evalOpts = append(evalOpts, risk.WithCovariance(opts.Covariance))
	}
	eval, err := risk.NewEvaluator(returns, spec, evalOpts...)
	if err != nil {
		return Performance{}, err
	}
	ratioRisk, err := eval.RatioRisk(w)
	if err != nil {
		return Performance{}, err
	}

	mu := opts.ExpectedReturns
	if mu == nil {
		mu = make([]float64, returns.N())
		for j := range mu {
			mu[j] = stat.Mean(returns.Column(j), nil)
		}
	}
	if len(mu) != len(w) {
		return Performance{}, fmt.Errorf("%w: %d expected returns for %d assets", domain.ErrInvalidConfiguration, len(mu), len(w))
	}

	tf := float64(opts.Frequency.PeriodsPerYear())
	perf := Performance{
		AnnualizedReturn: floats.Dot(w, mu) * tf,
		AnnualizedRisk:   ratioRisk,
		RiskMeasure:      spec.Measure,
	}
	if !spec.Measure.Drawdown() {
		perf.AnnualizedRisk *= math.Sqrt(tf)
	}
	perf.Ratio = ratio(perf.AnnualizedReturn-opts.RiskFree, perf.AnnualizedRisk)
	return perf, nil
}

func ratio(excess, deviation float64) float64 {
	if deviation > 0 {
		return excess / deviation
	}
	switch {
	case excess > 0:
		return math.Inf(1)
	case excess < 0:
		return math.Inf(-1)
	}
	return math.NaN()
}

// MarshalJSON writes an undefined ratio as null.
func (p Performance) MarshalJSON() ([]byte, error) {
	type plain Performance
	out := struct {
		plain
		Ratio *float64 `json:"ratio"`
	}{plain: plain(p)}
	if !math.IsNaN(p.Ratio) && !math.IsInf(p.Ratio, 0) {
		out.Ratio = &p.Ratio
	}
	return json.Marshal(out)
}

// Sharpe returns the annualized Sharpe ratio of w with the sample moments, following
// Report for riskless portfolios.
func Sharpe(w []float64, returns domain.ReturnSeries, riskFree float64, freq Frequency) (float64, error) {
	perf, err := Report(w, returns, risk.MustSpec(risk.Variance), Options{Frequency: freq, RiskFree: riskFree})
	if err != nil {
		return 0, err
	}
	return perf.Ratio, nil
}
