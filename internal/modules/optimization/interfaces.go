package optimization

import (
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/estimation"
	"gonum.org/v1/gonum/mat"
)

// MomentEstimator estimates the expected returns and covariance the optimizers consume.
type MomentEstimator interface {
	ExpectedReturns(returns domain.ReturnSeries, method estimation.MeanMethod, decay float64) ([]float64, error)
	Covariance(returns domain.ReturnSeries, opts estimation.CovarianceOptions) (*mat.SymDense, error)
}

// TreeBuilder clusters a universe for the hierarchical models.
type TreeBuilder interface {
	Cluster(returns domain.ReturnSeries, cfg clustering.Config) (*clustering.Result, error)
}
