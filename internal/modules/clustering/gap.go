package clustering

import (
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// DefaultMaxK bounds the cluster counts tried by the gap statistic.
const DefaultMaxK = 10

// OptimalClusters picks a cluster count with the two-difference gap statistic: for each
// cut into k clusters W_k is the sum over clusters of the mean within-cluster distance,
// and k maximizes W_{k-1} + W_{k+1} - 2·W_k.
func OptimalClusters(tree *domain.ClusterTree, dist mat.Symmetric, maxK int) int {
	n := tree.N()
	if maxK <= 0 {
		maxK = DefaultMaxK
	}
	limit := min(n, maxK)
	if limit <= 2 {
		return limit
	}

	dispersion := make([]float64, limit+1)
	for k := 1; k <= limit; k++ {
		clusters, err := tree.Cut(k)
		if err != nil {
			return 1
		}
		w := 0.0
		for _, members := range clusters {
			w += meanPairDistance(members, dist)
		}
		dispersion[k] = w
	}

	bestK, bestGap := 1, math.Inf(-1)
	for k := 2; k < limit; k++ {
		gap := dispersion[k-1] + dispersion[k+1] - 2*dispersion[k]
		if gap > bestGap {
			bestGap, bestK = gap, k
		}
	}
	return bestK
}

func meanPairDistance(members []int, dist mat.Symmetric) float64 {
	if len(members) < 2 {
		return 0
	}
	sum, count := 0.0, 0
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += dist.At(members[a], members[b])
			count++
		}
	}
	return sum / float64(count)
}
