package estimation

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	glassoMaxSweeps = 100
	glassoTol       = 1e-4
	lassoMaxIter    = 200
	lassoTol        = 1e-8
	cvFolds         = 3
	cvGridSize      = 6
)

// GraphicalLasso estimates a sparse-precision covariance from an empirical covariance
// by block coordinate descent. The diagonal is kept; off-diagonal precision entries are
// penalized by alpha.
func GraphicalLasso(s *mat.SymDense, alpha float64) (*mat.SymDense, error) {
	n := s.SymmetricDim()
	w := mat.NewSymDense(n, nil)
	w.CopySym(s)
	if alpha == 0 || n == 1 {
		return w, nil
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w.SetSym(i, j, 0.95*s.At(i, j))
		}
	}

	offScale := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				offScale += math.Abs(s.At(i, j))
			}
		}
	}
	offScale /= float64(n * (n - 1))
	if offScale == 0 {
		return w, nil
	}

	betas := make([][]float64, n)
	for j := range betas {
		betas[j] = make([]float64, n-1)
	}
	idx := make([]int, n-1)
	for sweep := 0; sweep < glassoMaxSweeps; sweep++ {
		change := 0.0
		for j := 0; j < n; j++ {
			k := 0
			for i := 0; i < n; i++ {
				if i != j {
					idx[k] = i
					k++
				}
			}
			beta := betas[j]
			solveLasso(w, s, idx, j, alpha, beta)

			for _, i := range idx {
				v := 0.0
				for b, l := range idx {
					v += w.At(i, l) * beta[b]
				}
				change += math.Abs(v - w.At(i, j))
				w.SetSym(i, j, v)
			}
		}
		if change/float64(n*(n-1)) < glassoTol*offScale {
			break
		}
	}

	for _, v := range w.RawSymmetric().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("graphical lasso: %w", domain.ErrNonConvergence)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(w); !ok {
		return nil, fmt.Errorf("%w: graphical lasso estimate is not positive definite", domain.ErrInsufficientData)
	}
	return w, nil
}

// solveLasso minimizes ½βᵀW₁₁β - s₁₂ᵀβ + alpha·|β|₁ by coordinate descent, warm-started at beta.
func solveLasso(w, s *mat.SymDense, idx []int, j int, alpha float64, beta []float64) {
	for iter := 0; iter < lassoMaxIter; iter++ {
		maxChange := 0.0
		for a, i := range idx {
			r := s.At(i, j)
			for b, l := range idx {
				if b != a {
					r -= w.At(i, l) * beta[b]
				}
			}
			next := softThreshold(r, alpha) / w.At(i, i)
			maxChange = math.Max(maxChange, math.Abs(next-beta[a]))
			beta[a] = next
		}
		if maxChange < lassoTol {
			return
		}
	}
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

// CrossValidatedAlpha picks the graphical lasso penalty maximizing the held-out Gaussian
// log-likelihood over contiguous folds, on a geometric grid below the largest absolute
// off-diagonal empirical covariance.
func CrossValidatedAlpha(x mat.Matrix) (float64, error) {
	t, n := x.Dims()
	emp := EmpiricalCovariance(x)
	alphaMax := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			alphaMax = math.Max(alphaMax, math.Abs(emp.At(i, j)))
		}
	}
	if alphaMax == 0 {
		return 0, nil
	}

	grid := make([]float64, cvGridSize)
	floats.LogSpan(grid, alphaMax*1e-2, alphaMax)
	if t < 2*cvFolds {
		return grid[cvGridSize/2], nil
	}

	type fold struct{ train, test *mat.SymDense }
	folds := make([]fold, 0, cvFolds)
	for f := 0; f < cvFolds; f++ {
		lo, hi := f*t/cvFolds, (f+1)*t/cvFolds
		train := mat.NewDense(t-(hi-lo), n, nil)
		test := mat.NewDense(hi-lo, n, nil)
		tr, te := 0, 0
		for k := 0; k < t; k++ {
			row := mat.Row(nil, k, x)
			if k >= lo && k < hi {
				test.SetRow(te, row)
				te++
			} else {
				train.SetRow(tr, row)
				tr++
			}
		}
		folds = append(folds, fold{EmpiricalCovariance(train), EmpiricalCovariance(test)})
	}

	best, bestScore := grid[cvGridSize-1], math.Inf(-1)
	for _, alpha := range grid {
		score := 0.0
		for _, f := range folds {
			w, err := GraphicalLasso(f.train, alpha)
			if err != nil {
				score = math.Inf(-1)
				break
			}
			score += gaussianLogLikelihood(f.test, w)
		}
		if score > bestScore {
			best, bestScore = alpha, score
		}
	}
	return best, nil
}

// gaussianLogLikelihood returns logdet(P) - tr(S·P) for P = W⁻¹, up to constants.
func gaussianLogLikelihood(s, w *mat.SymDense) float64 {
	var chol mat.Cholesky
	if ok := chol.Factorize(w); !ok {
		return math.Inf(-1)
	}
	var p mat.SymDense
	if err := chol.InverseTo(&p); err != nil {
		return math.Inf(-1)
	}
	n := s.SymmetricDim()
	trace := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			trace += s.At(i, j) * p.At(i, j)
		}
	}
	return -chol.LogDet() - trace
}
