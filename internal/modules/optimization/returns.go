package optimization

import (
	"fmt"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// moments are the estimated inputs of a program. cov is nil when the program does not
// need a covariance.
type moments struct {
	mu  []float64
	cov *mat.SymDense
}

// momentSource describes where a program's moments come from.
type momentSource struct {
	meanMethod estimation.MeanMethod
	covMethod  estimation.CovMethod
	decay      float64
	mu         []float64
	cov        mat.Symmetric
}

func estimateMoments(est MomentEstimator, returns domain.ReturnSeries, src momentSource, needCov bool) (moments, error) {
	n := returns.N()
	var m moments

	if src.mu != nil {
		if len(src.mu) != n {
			return moments{}, fmt.Errorf("%w: %d expected returns for %d assets", domain.ErrInvalidConfiguration, len(src.mu), n)
		}
		m.mu = append([]float64(nil), src.mu...)
	} else {
		mu, err := est.ExpectedReturns(returns, src.meanMethod, src.decay)
		if err != nil {
			return moments{}, fmt.Errorf("expected returns: %w", err)
		}
		m.mu = mu
	}

	if !needCov {
		return m, nil
	}
	if src.cov != nil {
		if src.cov.SymmetricDim() != n {
			return moments{}, fmt.Errorf("%w: covariance is %d×%d for %d assets", domain.ErrInvalidConfiguration, src.cov.SymmetricDim(), src.cov.SymmetricDim(), n)
		}
		m.cov = mat.NewSymDense(n, nil)
		m.cov.CopySym(src.cov)
		return m, nil
	}
	cov, err := est.Covariance(returns, estimation.CovarianceOptions{Method: src.covMethod, Decay: src.decay})
	if err != nil {
		return moments{}, fmt.Errorf("covariance: %w", err)
	}
	m.cov = cov
	return m, nil
}

// typicalVolatility is the mean standard deviation of the asset returns. It sets the
// smoothing width of the risk surrogates.
func typicalVolatility(returns domain.ReturnSeries) float64 {
	sum := 0.0
	for j := 0; j < returns.N(); j++ {
		sum += stat.StdDev(returns.Column(j), nil)
	}
	v := sum / float64(returns.N())
	if v <= 0 {
		return 1e-4
	}
	return v
}
