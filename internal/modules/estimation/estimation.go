// Package estimation builds expected return vectors and covariance matrices from return
// samples.
package estimation

import (
	"fmt"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Defaults for the estimator parameters.
const (
	DefaultDecay     = 0.94
	DefaultShrinkage = 0.1
	DefaultBandwidth = 0.01
)

// MeanMethod selects the expected return estimator.
type MeanMethod int

const (
	MeanHistorical MeanMethod = iota + 1
	// MeanEWMA1 is the exponentially weighted mean with normalized (adjusted) weights.
	MeanEWMA1
	// MeanEWMA2 is the recursive exponentially weighted mean seeded at the first observation.
	MeanEWMA2
)

var meanTags = map[MeanMethod][2]string{
	MeanHistorical: {"hist", "Historical mean"},
	MeanEWMA1:      {"ewma1", "Exponentially weighted mean (adjusted)"},
	MeanEWMA2:      {"ewma2", "Exponentially weighted mean (recursive)"},
}

// ParseMeanMethod resolves a mean estimator tag.
func ParseMeanMethod(tag string) (MeanMethod, error) {
	for m, names := range meanTags {
		if strings.EqualFold(names[0], tag) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mean method %q", domain.ErrInvalidConfiguration, tag)
}

func (m MeanMethod) String() string {
	if names, ok := meanTags[m]; ok {
		return names[0]
	}
	return fmt.Sprintf("MeanMethod(%d)", int(m))
}

// DisplayName returns the human readable name.
func (m MeanMethod) DisplayName() string {
	if names, ok := meanTags[m]; ok {
		return names[1]
	}
	return m.String()
}

// Valid reports whether m is a declared method.
func (m MeanMethod) Valid() bool {
	_, ok := meanTags[m]
	return ok
}

// CovMethod selects the covariance estimator.
type CovMethod int

const (
	CovHistorical CovMethod = iota + 1
	CovEWMA1
	CovEWMA2
	CovLedoitWolf
	CovOAS
	CovShrunk
	CovGraphicalLasso
	CovJLogo
	CovDenoiseFixed
	CovDenoiseSpectral
	CovDenoiseShrink
)

var covTags = map[CovMethod][2]string{
	CovHistorical:      {"hist", "Historical covariance"},
	CovEWMA1:           {"ewma1", "Exponentially weighted covariance (adjusted)"},
	CovEWMA2:           {"ewma2", "Exponentially weighted covariance (recursive)"},
	CovLedoitWolf:      {"ledoit", "Ledoit-Wolf shrinkage"},
	CovOAS:             {"oas", "Oracle approximating shrinkage"},
	CovShrunk:          {"shrunk", "Basic shrinkage"},
	CovGraphicalLasso:  {"gl", "Graphical lasso"},
	CovJLogo:           {"jlogo", "J-LoGo"},
	CovDenoiseFixed:    {"fixed", "Denoised (constant residual eigenvalues)"},
	CovDenoiseSpectral: {"spectral", "Denoised (spectral)"},
	CovDenoiseShrink:   {"shrink", "Denoised (targeted shrinkage)"},
}

// ParseCovMethod resolves a covariance estimator tag.
func ParseCovMethod(tag string) (CovMethod, error) {
	for c, names := range covTags {
		if strings.EqualFold(names[0], tag) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown covariance method %q", domain.ErrInvalidConfiguration, tag)
}

func (c CovMethod) String() string {
	if names, ok := covTags[c]; ok {
		return names[0]
	}
	return fmt.Sprintf("CovMethod(%d)", int(c))
}

// DisplayName returns the human readable name.
func (c CovMethod) DisplayName() string {
	if names, ok := covTags[c]; ok {
		return names[1]
	}
	return c.String()
}

// Valid reports whether c is a declared method.
func (c CovMethod) Valid() bool {
	_, ok := covTags[c]
	return ok
}

// CovarianceOptions parametrizes Covariance. Zero values select the defaults.
type CovarianceOptions struct {
	Method CovMethod
	// Decay is the EWMA decay factor d; the smoothing factor is 1-d.
	Decay float64
	// Shrinkage is the intensity of the basic shrinkage estimator.
	Shrinkage float64
	// GLAlpha is the graphical lasso penalty; zero selects it by cross-validation.
	GLAlpha float64
	// DenoiseAlpha weights the noise correlation kept by targeted shrinkage.
	DenoiseAlpha float64
	// Bandwidth is the kernel bandwidth used to fit the Marchenko-Pastur distribution.
	Bandwidth float64
}

func (o CovarianceOptions) withDefaults() CovarianceOptions {
	if o.Method == 0 {
		o.Method = CovHistorical
	}
	if o.Decay == 0 {
		o.Decay = DefaultDecay
	}
	if o.Shrinkage == 0 {
		o.Shrinkage = DefaultShrinkage
	}
	if o.Bandwidth == 0 {
		o.Bandwidth = DefaultBandwidth
	}
	return o
}

// Validate checks the options after defaults are applied.
func (o CovarianceOptions) Validate() error {
	o = o.withDefaults()
	if !o.Method.Valid() {
		return fmt.Errorf("%w: unknown covariance method %d", domain.ErrInvalidConfiguration, int(o.Method))
	}
	if !(o.Decay > 0 && o.Decay < 1) {
		return fmt.Errorf("%w: decay factor must be in (0, 1), got %v", domain.ErrInvalidConfiguration, o.Decay)
	}
	if !(o.Shrinkage > 0 && o.Shrinkage <= 1) {
		return fmt.Errorf("%w: shrinkage must be in (0, 1], got %v", domain.ErrInvalidConfiguration, o.Shrinkage)
	}
	if o.GLAlpha < 0 {
		return fmt.Errorf("%w: graphical lasso alpha must be non-negative, got %v", domain.ErrInvalidConfiguration, o.GLAlpha)
	}
	if o.DenoiseAlpha < 0 || o.DenoiseAlpha > 1 {
		return fmt.Errorf("%w: denoise alpha must be in [0, 1], got %v", domain.ErrInvalidConfiguration, o.DenoiseAlpha)
	}
	if o.Bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive, got %v", domain.ErrInvalidConfiguration, o.Bandwidth)
	}
	return nil
}

// Estimator computes moments of return samples.
type Estimator struct {
	log zerolog.Logger
}

// NewEstimator creates an estimator.
func NewEstimator(log zerolog.Logger) *Estimator {
	return &Estimator{log: log.With().Str("component", "estimation").Logger()}
}

// ExpectedReturns estimates the per-period mean of every asset.
func (e *Estimator) ExpectedReturns(returns domain.ReturnSeries, method MeanMethod, decay float64) ([]float64, error) {
	if returns.T() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrInsufficientData, returns.T())
	}
	if decay == 0 {
		decay = DefaultDecay
	}
	if !(decay > 0 && decay < 1) {
		return nil, fmt.Errorf("%w: decay factor must be in (0, 1), got %v", domain.ErrInvalidConfiguration, decay)
	}

	var weights []float64
	switch method {
	case MeanHistorical:
	case MeanEWMA1:
		weights = AdjustedEWMAWeights(returns.T(), decay)
	case MeanEWMA2:
		weights = RecursiveEWMAWeights(returns.T(), decay)
	default:
		return nil, fmt.Errorf("%w: unknown mean method %d", domain.ErrInvalidConfiguration, int(method))
	}

	mu := make([]float64, returns.N())
	for j := range mu {
		mu[j] = stat.Mean(returns.Column(j), weights)
	}
	return mu, nil
}

// Covariance estimates the covariance matrix of the assets.
func (e *Estimator) Covariance(returns domain.ReturnSeries, opts CovarianceOptions) (*mat.SymDense, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	t, n := returns.T(), returns.N()
	if t < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrInsufficientData, t)
	}

	x := mat.DenseCopyOf(returns.Matrix())
	var (
		cov *mat.SymDense
		err error
	)
	switch opts.Method {
	case CovHistorical:
		cov = SampleCovariance(x)
	case CovEWMA1:
		cov, err = WeightedCovariance(x, AdjustedEWMAWeights(t, opts.Decay))
	case CovEWMA2:
		cov, err = WeightedCovariance(x, RecursiveEWMAWeights(t, opts.Decay))
	case CovLedoitWolf:
		cov = LedoitWolf(x)
	case CovOAS:
		cov = OracleApproximatingShrinkage(x)
	case CovShrunk:
		cov = ShrunkCovariance(x, opts.Shrinkage)
	case CovGraphicalLasso:
		cov, err = e.graphicalLasso(x, opts.GLAlpha)
	case CovJLogo:
		cov, err = JLogo(SampleCovariance(x))
	case CovDenoiseFixed, CovDenoiseSpectral, CovDenoiseShrink:
		cov, err = Denoise(SampleCovariance(x), float64(t)/float64(n), DenoiseConfig{
			Method:    opts.Method,
			Alpha:     opts.DenoiseAlpha,
			Bandwidth: opts.Bandwidth,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%s covariance: %w", opts.Method, err)
	}

	e.log.Debug().
		Str("method", opts.Method.String()).
		Int("observations", t).
		Int("assets", n).
		Msg("Estimated covariance")
	return cov, nil
}

func (e *Estimator) graphicalLasso(x *mat.Dense, alpha float64) (*mat.SymDense, error) {
	if alpha == 0 {
		var err error
		alpha, err = CrossValidatedAlpha(x)
		if err != nil {
			return nil, err
		}
		e.log.Debug().Float64("alpha", alpha).Msg("Selected graphical lasso penalty")
	}
	return GraphicalLasso(EmpiricalCovariance(x), alpha)
}
