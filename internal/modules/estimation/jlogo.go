package estimation

import (
	"fmt"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// JLogo rebuilds a covariance from the local inverses over the cliques and separators of
// the planar filtered graph of squared correlations: the sparse precision is the sum of the
// inverted 4-clique blocks minus the inverted separator blocks.
func JLogo(cov *mat.SymDense) (*mat.SymDense, error) {
	corr, err := formulas.CorrelationFromCovariance(cov)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	n := corr.SymmetricDim()
	similarity := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := corr.At(i, j)
			similarity.SetSym(i, j, c*c)
		}
	}

	g, err := clustering.TMFG(similarity)
	if err != nil {
		return nil, err
	}

	precision := mat.NewSymDense(n, nil)
	for _, clique := range g.Cliques {
		if err := addLocalInverse(precision, cov, clique[:], 1); err != nil {
			return nil, err
		}
	}
	for _, sep := range g.Separators {
		if err := addLocalInverse(precision, cov, sep[:], -1); err != nil {
			return nil, err
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(precision); !ok {
		return nil, fmt.Errorf("%w: sparse precision is not positive definite", domain.ErrInsufficientData)
	}
	out := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	return out, nil
}

// addLocalInverse adds sign·inv(cov[idx, idx]) into dst at the idx positions.
func addLocalInverse(dst, cov *mat.SymDense, idx []int, sign float64) error {
	k := len(idx)
	block := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			block.SetSym(a, b, cov.At(idx[a], idx[b]))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(block); !ok {
		return fmt.Errorf("%w: singular covariance block %v", domain.ErrInsufficientData, idx)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			i, j := idx[a], idx[b]
			dst.SetSym(i, j, dst.At(i, j)+sign*inv.At(a, b))
		}
	}
	return nil
}
