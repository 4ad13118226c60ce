package estimation

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// AdjustedEWMAWeights returns normalized observation weights (oldest -> newest) where the
// observation of age k carries (1-alpha)^k, alpha = 1-decay.
func AdjustedEWMAWeights(t int, decay float64) []float64 {
	weights := make([]float64, t)
	for i := range weights {
		age := float64(t - 1 - i)
		weights[i] = math.Pow(decay, age)
	}
	floats.Scale(1/floats.Sum(weights), weights)
	return weights
}

// RecursiveEWMAWeights returns the weights implied by y_0 = x_0,
// y_t = (1-alpha)·y_{t-1} + alpha·x_t, alpha = 1-decay. They sum to one.
func RecursiveEWMAWeights(t int, decay float64) []float64 {
	alpha := 1 - decay
	weights := make([]float64, t)
	weights[0] = math.Pow(decay, float64(t-1))
	for i := 1; i < t; i++ {
		weights[i] = alpha * math.Pow(decay, float64(t-1-i))
	}
	return weights
}

// EffectiveSampleSize is 1/Σw² for normalized weights.
func EffectiveSampleSize(weights []float64) float64 {
	sumSq := floats.Dot(weights, weights)
	if sumSq <= 0 {
		return 0
	}
	return 1 / sumSq
}

// SampleCovariance is the unbiased (T-1) covariance of the columns of x.
func SampleCovariance(x mat.Matrix) *mat.SymDense {
	_, n := x.Dims()
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, x, nil)
	return cov
}

// EmpiricalCovariance is the maximum likelihood (T) covariance of the columns of x.
func EmpiricalCovariance(x mat.Matrix) *mat.SymDense {
	t, _ := x.Dims()
	cov := SampleCovariance(x)
	cov.ScaleSym(float64(t-1)/float64(t), cov)
	return cov
}

// WeightedCovariance computes a weighted covariance of the columns of x with normalized
// observation weights, using the effective-sample correction denom = 1 - Σw².
func WeightedCovariance(x mat.Matrix, weights []float64) (*mat.SymDense, error) {
	t, n := x.Dims()
	if len(weights) != t {
		return nil, fmt.Errorf("%w: %d weights for %d observations", domain.ErrInvalidConfiguration, len(weights), t)
	}
	denom := 1 - floats.Dot(weights, weights)
	if denom <= 0 {
		return nil, fmt.Errorf("%w: invalid effective-sample denominator %v", domain.ErrInsufficientData, denom)
	}

	mu := make([]float64, n)
	for j := range mu {
		for k := 0; k < t; k++ {
			mu[j] += weights[k] * x.At(k, j)
		}
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := 0.0
			for k := 0; k < t; k++ {
				s += weights[k] * (x.At(k, i) - mu[i]) * (x.At(k, j) - mu[j])
			}
			cov.SetSym(i, j, s/denom)
		}
	}
	return cov, nil
}

// centered returns x minus its column means.
func centered(x mat.Matrix) *mat.Dense {
	t, n := x.Dims()
	out := mat.DenseCopyOf(x)
	for j := 0; j < n; j++ {
		col := mat.Col(nil, j, out)
		m := stat.Mean(col, nil)
		for k := 0; k < t; k++ {
			out.Set(k, j, col[k]-m)
		}
	}
	return out
}

// shrinkToIdentity returns (1-s)·S + s·mu·I where mu is the mean variance of S.
func shrinkToIdentity(s *mat.SymDense, shrinkage float64) *mat.SymDense {
	n := s.SymmetricDim()
	mu := mat.Trace(s) / float64(n)
	out := mat.NewSymDense(n, nil)
	out.ScaleSym(1-shrinkage, s)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+shrinkage*mu)
	}
	return out
}

// ShrunkCovariance shrinks the empirical covariance toward a scaled identity with a fixed
// intensity.
func ShrunkCovariance(x mat.Matrix, shrinkage float64) *mat.SymDense {
	return shrinkToIdentity(EmpiricalCovariance(x), shrinkage)
}

// LedoitWolfShrinkage returns the Ledoit-Wolf intensity for shrinking the empirical
// covariance toward a scaled identity.
func LedoitWolfShrinkage(x mat.Matrix) float64 {
	t, n := x.Dims()
	if n == 1 {
		return 0
	}
	xc := centered(x)

	x2 := mat.NewDense(t, n, nil)
	x2.MulElem(xc, xc)
	traceTerms := make([]float64, n)
	for j := range traceTerms {
		traceTerms[j] = floats.Sum(mat.Col(nil, j, x2)) / float64(t)
	}
	trace := floats.Sum(traceTerms)
	mu := trace / float64(n)

	var x2tx2, xtx mat.Dense
	x2tx2.Mul(x2.T(), x2)
	xtx.Mul(xc.T(), xc)
	betaSum := sumAll(&x2tx2)
	deltaSum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := xtx.At(i, j)
			deltaSum += v * v
		}
	}
	deltaSum /= float64(t * t)

	beta := (betaSum/float64(t) - deltaSum) / float64(n*t)
	delta := (deltaSum - 2*mu*trace + float64(n)*mu*mu) / float64(n)
	beta = math.Min(beta, delta)
	if beta == 0 || delta == 0 {
		return 0
	}
	return beta / delta
}

// LedoitWolf is the empirical covariance shrunk with the Ledoit-Wolf intensity.
func LedoitWolf(x mat.Matrix) *mat.SymDense {
	return shrinkToIdentity(EmpiricalCovariance(x), LedoitWolfShrinkage(x))
}

// OASShrinkage returns the oracle approximating shrinkage intensity.
func OASShrinkage(x mat.Matrix) float64 {
	t, n := x.Dims()
	s := EmpiricalCovariance(x)
	alpha := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := s.At(i, j)
			alpha += v * v
		}
	}
	alpha /= float64(n * n)
	mu := mat.Trace(s) / float64(n)
	num := alpha + mu*mu
	den := float64(t+1) * (alpha - mu*mu/float64(n))
	if den == 0 {
		return 1
	}
	return math.Min(num/den, 1)
}

// OracleApproximatingShrinkage is the empirical covariance shrunk with the OAS intensity.
func OracleApproximatingShrinkage(x mat.Matrix) *mat.SymDense {
	return shrinkToIdentity(EmpiricalCovariance(x), OASShrinkage(x))
}

func sumAll(m mat.Matrix) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += m.At(i, j)
		}
	}
	return s
}

// CorrelationToCovariance scales a correlation matrix by the given standard deviations.
func CorrelationToCovariance(corr mat.Symmetric, std []float64) *mat.SymDense {
	n := corr.SymmetricDim()
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, corr.At(i, j)*std[i]*std[j])
		}
	}
	return cov
}
