package clustering

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// Linkage selects the agglomeration rule.
type Linkage int

const (
	Single Linkage = iota + 1
	Complete
	Average
	Weighted
	Centroid
	Median
	Ward
	// DBHT is the direct bubble hierarchical tree built over a planar filtered graph.
	DBHT
)

var linkageTags = map[Linkage]string{
	Single:   "single",
	Complete: "complete",
	Average:  "average",
	Weighted: "weighted",
	Centroid: "centroid",
	Median:   "median",
	Ward:     "ward",
	DBHT:     "dbht",
}

// ParseLinkage resolves a linkage tag.
func ParseLinkage(tag string) (Linkage, error) {
	for l, name := range linkageTags {
		if strings.EqualFold(name, tag) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown linkage %q", domain.ErrInvalidConfiguration, tag)
}

func (l Linkage) String() string {
	if name, ok := linkageTags[l]; ok {
		return name
	}
	return fmt.Sprintf("Linkage(%d)", int(l))
}

// Valid reports whether l is a declared linkage.
func (l Linkage) Valid() bool {
	_, ok := linkageTags[l]
	return ok
}

// squared reports whether the Lance-Williams update runs on squared distances.
func (l Linkage) squared() bool {
	return l == Centroid || l == Median || l == Ward
}

type activeCluster struct {
	node int
	size int
	// first is the smallest asset label in the cluster.
	first string
}

// Agglomerate runs agglomerative clustering on a distance matrix with Lance-Williams
// updates. Ties are broken by asset labels, never by column positions: the pair whose
// smallest labels sort first wins, and the child holding the smaller label is placed on
// the left.
func Agglomerate(dist mat.Symmetric, assets []string, linkage Linkage) (*domain.ClusterTree, error) {
	if linkage == DBHT || !linkage.Valid() {
		return nil, fmt.Errorf("%w: %s is not an agglomerative linkage", domain.ErrInvalidConfiguration, linkage)
	}
	n := dist.SymmetricDim()
	if n != len(assets) {
		return nil, fmt.Errorf("%w: distance matrix is %d×%d for %d assets", domain.ErrInvalidConfiguration, n, n, len(assets))
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: clustering needs at least 2 assets, got %d", domain.ErrInsufficientData, n)
	}

	// Working distances between active clusters, keyed by slot.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			v := dist.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite distance between %s and %s", domain.ErrInsufficientData, assets[i], assets[j])
			}
			if linkage.squared() {
				v *= v
			}
			d[i][j] = v
		}
	}

	tree := domain.NewClusterTree(assets)
	slots := make([]*activeCluster, n)
	for i := range slots {
		slots[i] = &activeCluster{node: i, size: 1, first: assets[i]}
	}

	for merges := 0; merges < n-1; merges++ {
		bestI, bestJ := -1, -1
		bestD := math.Inf(1)
		for i := 0; i < n; i++ {
			if slots[i] == nil {
				continue
			}
			for j := i + 1; j < n; j++ {
				if slots[j] == nil {
					continue
				}
				if bestI < 0 || d[i][j] < bestD || (d[i][j] == bestD && pairLess(slots[i], slots[j], slots[bestI], slots[bestJ])) {
					bestD, bestI, bestJ = d[i][j], i, j
				}
			}
		}

		a, b := slots[bestI], slots[bestJ]
		left, right := a, b
		if right.first < left.first {
			left, right = right, left
		}
		height := bestD
		if linkage.squared() {
			height = math.Sqrt(math.Max(height, 0))
		}
		node := tree.Merge(left.node, right.node, height)

		for k := 0; k < n; k++ {
			if slots[k] == nil || k == bestI || k == bestJ {
				continue
			}
			v := lanceWilliams(linkage, d[bestI][k], d[bestJ][k], d[bestI][bestJ], a.size, b.size, slots[k].size)
			d[bestI][k], d[k][bestI] = v, v
		}
		slots[bestI] = &activeCluster{node: node, size: a.size + b.size, first: min(a.first, b.first)}
		slots[bestJ] = nil
	}
	return tree, nil
}

func lanceWilliams(linkage Linkage, dik, djk, dij float64, ni, nj, nk int) float64 {
	fi, fj, fk := float64(ni), float64(nj), float64(nk)
	switch linkage {
	case Single:
		return math.Min(dik, djk)
	case Complete:
		return math.Max(dik, djk)
	case Average:
		return (fi*dik + fj*djk) / (fi + fj)
	case Weighted:
		return (dik + djk) / 2
	case Centroid:
		return (fi*dik+fj*djk)/(fi+fj) - fi*fj*dij/((fi+fj)*(fi+fj))
	case Median:
		return dik/2 + djk/2 - dij/4
	default: // Ward
		return ((fi+fk)*dik + (fj+fk)*djk - fk*dij) / (fi + fj + fk)
	}
}

// pairLess orders candidate pairs by their (lower, higher) smallest labels.
func pairLess(a1, b1, a2, b2 *activeCluster) bool {
	x1, y1 := a1.first, b1.first
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.first, b2.first
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}
