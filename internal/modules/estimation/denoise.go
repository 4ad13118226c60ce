package estimation

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

const mpGridPoints = 1000

// DenoiseConfig selects how the eigenvalues attributed to noise are treated.
type DenoiseConfig struct {
	// Method is one of CovDenoiseFixed, CovDenoiseSpectral or CovDenoiseShrink.
	Method CovMethod
	// Alpha weights the noise correlation kept by targeted shrinkage.
	Alpha float64
	// Bandwidth of the Gaussian kernel density fitted to the eigenvalues.
	Bandwidth float64
}

// Denoise cleans the correlation of cov with random matrix theory. Eigenvalues below the
// fitted Marchenko-Pastur edge for the aspect ratio q = T/N are treated as noise.
func Denoise(cov *mat.SymDense, q float64, cfg DenoiseConfig) (*mat.SymDense, error) {
	corr, err := formulas.CorrelationFromCovariance(cov)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	std := formulas.StdDevs(cov)
	n := corr.SymmetricDim()

	values, vectors, err := descendingEigen(corr)
	if err != nil {
		return nil, err
	}
	if cfg.Bandwidth <= 0 {
		cfg.Bandwidth = DefaultBandwidth
	}
	edge := MarchenkoPasturEdge(values, q, cfg.Bandwidth)
	factors := 0
	for _, v := range values {
		if v > edge {
			factors++
		}
	}
	factors = min(max(factors, 1), n)

	var cleaned *mat.SymDense
	switch cfg.Method {
	case CovDenoiseFixed:
		adjusted := append([]float64(nil), values...)
		if factors < n {
			rest := 0.0
			for _, v := range values[factors:] {
				rest += v
			}
			rest /= float64(n - factors)
			for i := factors; i < n; i++ {
				adjusted[i] = rest
			}
		}
		cleaned = rescaleToCorrelation(reconstruct(vectors, adjusted, 0, n))
	case CovDenoiseSpectral:
		adjusted := append([]float64(nil), values...)
		for i := factors; i < n; i++ {
			adjusted[i] = 0
		}
		cleaned = rescaleToCorrelation(reconstruct(vectors, adjusted, 0, n))
	case CovDenoiseShrink:
		signal := reconstruct(vectors, values, 0, factors)
		noise := reconstruct(vectors, values, factors, n)
		cleaned = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := signal.At(i, j) + cfg.Alpha*noise.At(i, j)
				if i == j {
					v += (1 - cfg.Alpha) * noise.At(i, i)
				}
				cleaned.SetSym(i, j, v)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s is not a denoising method", domain.ErrInvalidConfiguration, cfg.Method)
	}

	return CorrelationToCovariance(cleaned, std), nil
}

func descendingEigen(s mat.Symmetric) ([]float64, *mat.Dense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return nil, nil, fmt.Errorf("%w: eigendecomposition failed", domain.ErrNonConvergence)
	}
	asc := eig.Values(nil)
	var vec mat.Dense
	eig.VectorsTo(&vec)

	n := len(asc)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return asc[order[a]] > asc[order[b]] })

	values := make([]float64, n)
	vectors := mat.NewDense(n, n, nil)
	for k, idx := range order {
		values[k] = asc[idx]
		vectors.SetCol(k, mat.Col(nil, idx, &vec))
	}
	return values, vectors, nil
}

// reconstruct returns Σ_{k in [from, to)} λ_k v_k v_kᵀ.
func reconstruct(vectors *mat.Dense, values []float64, from, to int) *mat.SymDense {
	n := len(values)
	out := mat.NewSymDense(n, nil)
	for k := from; k < to; k++ {
		v := mat.NewVecDense(n, mat.Col(nil, k, vectors))
		out.SymRankOne(out, values[k], v)
	}
	return out
}

func rescaleToCorrelation(s *mat.SymDense) *mat.SymDense {
	n := s.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := math.Sqrt(s.At(i, i) * s.At(j, j))
			if d <= 0 {
				if i == j {
					out.SetSym(i, j, 1)
				}
				continue
			}
			out.SetSym(i, j, s.At(i, j)/d)
		}
	}
	return out
}

// MarchenkoPasturEdge fits the noise variance of a Marchenko-Pastur density to a Gaussian
// kernel density of the eigenvalues and returns the implied upper edge λ₊ = σ²(1+√(1/q))².
func MarchenkoPasturEdge(values []float64, q, bandwidth float64) float64 {
	fit := func(variance float64) float64 {
		lo := variance * math.Pow(1-math.Sqrt(1/q), 2)
		hi := variance * math.Pow(1+math.Sqrt(1/q), 2)
		sse := 0.0
		for p := 0; p < mpGridPoints; p++ {
			x := lo + (hi-lo)*float64(p)/float64(mpGridPoints-1)
			pdf := 0.0
			if x > 0 {
				pdf = q / (2 * math.Pi * variance * x) * math.Sqrt(math.Max((hi-x)*(x-lo), 0))
			}
			d := pdf - kernelDensity(values, x, bandwidth)
			sse += d * d
		}
		return sse
	}
	// The noise variance lives in (0, 1); the search runs on its logit from 1/2.
	logistic := func(u float64) float64 { return 1 / (1 + math.Exp(-u)) }
	u, _, err := formulas.MinimizeScalar(func(u float64) float64 { return fit(logistic(u)) }, 0)
	variance := logistic(u)
	if err != nil || math.IsNaN(variance) {
		variance, _ = formulas.GoldenSection(fit, 1e-5, 1-1e-5, 1e-8)
	}
	if math.IsNaN(variance) {
		variance = 1
	}
	return variance * math.Pow(1+math.Sqrt(1/q), 2)
}

func kernelDensity(values []float64, x, bandwidth float64) float64 {
	s := 0.0
	for _, v := range values {
		z := (x - v) / bandwidth
		s += math.Exp(-0.5 * z * z)
	}
	return s / (float64(len(values)) * bandwidth * math.Sqrt(2*math.Pi))
}
