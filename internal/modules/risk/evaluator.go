package risk

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Evaluator computes one risk measure for any weight vector over a fixed return sample.
// It caches the order-statistic weights the measure needs.
type Evaluator struct {
	spec    Spec
	returns *mat.Dense
	t, n    int
	cov     *mat.SymDense

	lossWeights []float64
	gainWeights []float64
	gmdWeights  []float64
	ddWeights   []float64
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithCovariance makes the variance measure use an estimated covariance instead of the
// sample covariance of the returns.
func WithCovariance(cov mat.Symmetric) EvaluatorOption {
	return func(e *Evaluator) {
		e.cov = mat.NewSymDense(cov.SymmetricDim(), nil)
		e.cov.CopySym(cov)
	}
}

// NewEvaluator prepares an evaluator for the spec over the series.
func NewEvaluator(returns domain.ReturnSeries, spec Spec, opts ...EvaluatorOption) (*Evaluator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if returns.T() < 2 {
		return nil, fmt.Errorf("%w: risk needs at least 2 periods, got %d", domain.ErrInsufficientData, returns.T())
	}
	e := &Evaluator{
		spec:    spec,
		returns: mat.DenseCopyOf(returns.Matrix()),
		t:       returns.T(),
		n:       returns.N(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cov != nil && e.cov.SymmetricDim() != e.n {
		return nil, fmt.Errorf("%w: covariance is %d×%d for %d assets", domain.ErrInvalidConfiguration, e.cov.SymmetricDim(), e.cov.SymmetricDim(), e.n)
	}
	if spec.Measure == Variance && e.cov == nil {
		e.cov = mat.NewSymDense(e.n, nil)
		stat.CovarianceMatrix(e.cov, e.returns, nil)
	}
	e.prepare()
	return e, nil
}

func (e *Evaluator) prepare() {
	s := e.spec
	switch s.Measure {
	case GiniMeanDifference:
		e.gmdWeights = giniMeanDifferenceWeights(e.t)
	case ConditionalValueAtRisk:
		e.lossWeights = cvarWeights(e.t, s.Alpha)
	case CVaRRange:
		e.lossWeights = cvarWeights(e.t, s.Alpha)
		e.gainWeights = cvarWeights(e.t, s.Beta)
	case TailGini:
		e.lossWeights = tailGiniWeights(e.t, s.Alpha, s.ASim)
	case TailGiniRange:
		e.lossWeights = tailGiniWeights(e.t, s.Alpha, s.ASim)
		e.gainWeights = tailGiniWeights(e.t, s.Beta, s.BSim)
	case ConditionalDrawdownAtRisk, ConditionalDrawdownAtRiskRel:
		e.ddWeights = cvarWeights(e.t, s.Alpha)
	}
}

// Spec returns the evaluator's risk spec.
func (e *Evaluator) Spec() Spec {
	return e.spec
}

// Assets returns the number of assets.
func (e *Evaluator) Assets() int {
	return e.n
}

// Portfolio returns the portfolio return series for w.
func (e *Evaluator) Portfolio(w []float64) []float64 {
	r := mat.NewVecDense(e.t, nil)
	r.MulVec(e.returns, mat.NewVecDense(len(w), w))
	return r.RawVector().Data
}

// Risk evaluates the measure at w.
func (e *Evaluator) Risk(w []float64) (float64, error) {
	if len(w) != e.n {
		return 0, fmt.Errorf("%w: %d weights for %d assets", domain.ErrInvalidConfiguration, len(w), e.n)
	}
	if e.spec.Measure == Variance {
		x := mat.NewVecDense(e.n, w)
		return mat.Inner(x, e.cov, x), nil
	}
	return e.SeriesRisk(e.Portfolio(w))
}

// RatioRisk is the risk used in ratio objectives and reports: the standard deviation for
// the variance measure and the measure itself otherwise.
func (e *Evaluator) RatioRisk(w []float64) (float64, error) {
	v, err := e.Risk(w)
	if err != nil {
		return 0, err
	}
	if e.spec.Measure == Variance {
		return math.Sqrt(math.Max(v, 0)), nil
	}
	return v, nil
}

// SeriesRisk evaluates the measure on a portfolio return series.
func (e *Evaluator) SeriesRisk(r []float64) (float64, error) {
	if len(r) < 2 {
		return 0, fmt.Errorf("%w: risk needs at least 2 observations, got %d", domain.ErrInsufficientData, len(r))
	}
	s := e.spec
	if len(r) != e.t {
		// A foreign series: rebuild order-statistic weights for its length.
		other := &Evaluator{spec: s, t: len(r)}
		other.prepare()
		return other.seriesRisk(r)
	}
	return e.seriesRisk(r)
}

func (e *Evaluator) seriesRisk(r []float64) (float64, error) {
	s := e.spec
	var value float64
	switch s.Measure {
	case Variance:
		value = variance(r)
	case MeanAbsoluteDeviation:
		value = meanAbsoluteDeviation(r)
	case GiniMeanDifference:
		value = giniMeanDifference(r, e.gmdWeights)
	case SemiDeviation:
		value = semiDeviation(r)
	case FirstLowerPartialMoment:
		value = lowerPartialMoment(r, s.Threshold, 1)
	case SecondLowerPartialMoment:
		value = lowerPartialMoment(r, s.Threshold, 2)
	case ValueAtRisk:
		value = valueAtRisk(negate(r), s.Alpha)
	case ConditionalValueAtRisk, TailGini:
		value = orderedWeightedAverage(negate(r), e.lossWeights)
	case EntropicValueAtRisk:
		v, err := entropicValueAtRisk(negate(r), s.Alpha)
		if err != nil {
			return 0, err
		}
		value = v
	case WorstRealization:
		value = maxOf(negate(r))
	case Range:
		value = maxOf(negate(r)) + maxOf(r)
	case CVaRRange, TailGiniRange:
		value = orderedWeightedAverage(negate(r), e.lossWeights) + orderedWeightedAverage(r, e.gainWeights)
	default:
		dd := drawdowns(r, s.Measure.Compounded())
		v, err := drawdownRisk(s, dd, e.ddWeights)
		if err != nil {
			return 0, err
		}
		value = v
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %s evaluated to %v", domain.ErrNonConvergence, s.Measure, value)
	}
	return value, nil
}

func drawdownRisk(s Spec, dd []float64, cvar []float64) (float64, error) {
	switch s.Measure {
	case MaxDrawdown, MaxDrawdownRel:
		return maxOf(dd), nil
	case AverageDrawdown, AverageDrawdownRel:
		return averageOf(dd), nil
	case DrawdownAtRisk, DrawdownAtRiskRel:
		return valueAtRisk(dd, s.Alpha), nil
	case ConditionalDrawdownAtRisk, ConditionalDrawdownAtRiskRel:
		return orderedWeightedAverage(dd, cvar), nil
	case EntropicDrawdownAtRisk, EntropicDrawdownAtRiskRel:
		return entropicValueAtRisk(dd, s.Alpha)
	case UlcerIndex, UlcerIndexRel:
		return ulcerIndex(dd), nil
	}
	return 0, fmt.Errorf("%w: unsupported risk measure %s", domain.ErrInvalidConfiguration, s.Measure)
}

// Contributions returns each asset's Euler contribution w_i·∂ρ/∂w_i to the ratio risk ρ.
// For homogeneous measures the contributions sum to ρ.
func (e *Evaluator) Contributions(w []float64) ([]float64, error) {
	if len(w) != e.n {
		return nil, fmt.Errorf("%w: %d weights for %d assets", domain.ErrInvalidConfiguration, len(w), e.n)
	}
	out := make([]float64, e.n)

	if e.spec.Measure == Variance {
		x := mat.NewVecDense(e.n, w)
		sx := mat.NewVecDense(e.n, nil)
		sx.MulVec(e.cov, x)
		sigma := math.Sqrt(math.Max(mat.Dot(x, sx), 0))
		if sigma == 0 {
			return out, nil
		}
		for i := range out {
			out[i] = w[i] * sx.AtVec(i) / sigma
		}
		return out, nil
	}

	var failure error
	f := func(x []float64) float64 {
		v, err := e.RatioRisk(x)
		if err != nil {
			failure = err
			return math.NaN()
		}
		return v
	}
	grad := fd.Gradient(nil, f, w, &fd.Settings{Formula: fd.Central, Step: 1e-6})
	if failure != nil {
		return nil, fmt.Errorf("risk contributions: %w", failure)
	}
	for i := range out {
		out[i] = w[i] * grad[i]
	}
	return out, nil
}

// Risk is a convenience wrapper evaluating spec at w over returns.
func Risk(w []float64, returns domain.ReturnSeries, spec Spec) (float64, error) {
	e, err := NewEvaluator(returns, spec)
	if err != nil {
		return 0, err
	}
	return e.Risk(w)
}

// SeriesRisk evaluates spec on an already-built portfolio return series.
func SeriesRisk(r []float64, spec Spec) (float64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if len(r) < 2 {
		return 0, fmt.Errorf("%w: risk needs at least 2 observations, got %d", domain.ErrInsufficientData, len(r))
	}
	e := &Evaluator{spec: spec, t: len(r)}
	e.prepare()
	return e.seriesRisk(r)
}
