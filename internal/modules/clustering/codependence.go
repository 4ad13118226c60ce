// Package clustering turns return samples into codependence distances and hierarchical
// cluster trees.
package clustering

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Codependence selects how pairwise dependence between assets is measured.
type Codependence int

const (
	Pearson Codependence = iota + 1
	Spearman
	AbsPearson
	AbsSpearman
	DistanceCorrelation
	MutualInformation
	TailDependence
)

var codependenceTags = map[Codependence][2]string{
	Pearson:             {"pearson", "Pearson correlation"},
	Spearman:            {"spearman", "Spearman rank correlation"},
	AbsPearson:          {"abs_pearson", "Absolute Pearson correlation"},
	AbsSpearman:         {"abs_spearman", "Absolute Spearman rank correlation"},
	DistanceCorrelation: {"distance", "Distance correlation"},
	MutualInformation:   {"mutual_info", "Mutual information"},
	TailDependence:      {"tail", "Lower tail dependence index"},
}

// ParseCodependence resolves a codependence tag.
func ParseCodependence(tag string) (Codependence, error) {
	for c, names := range codependenceTags {
		if strings.EqualFold(names[0], tag) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown codependence %q", domain.ErrInvalidConfiguration, tag)
}

func (c Codependence) String() string {
	if names, ok := codependenceTags[c]; ok {
		return names[0]
	}
	return fmt.Sprintf("Codependence(%d)", int(c))
}

// DisplayName returns the human readable name.
func (c Codependence) DisplayName() string {
	if names, ok := codependenceTags[c]; ok {
		return names[1]
	}
	return c.String()
}

// Valid reports whether c is a declared codependence.
func (c Codependence) Valid() bool {
	_, ok := codependenceTags[c]
	return ok
}

// CodependenceConfig parametrizes the codependence computation.
type CodependenceConfig struct {
	Method Codependence
	// Bins selects the histogram rule for mutual information.
	Bins Bins
	// AlphaTail is the quantile level of the lower tail dependence index.
	AlphaTail float64
}

// Dependence holds the codependence, its distance transform and a similarity in [0, 1]
// used to grow planar graphs.
type Dependence struct {
	Codependence *mat.SymDense
	Distance     *mat.SymDense
	Similarity   *mat.SymDense
}

// ComputeDependence measures pairwise dependence between the columns of returns.
func ComputeDependence(returns domain.ReturnSeries, cfg CodependenceConfig) (*Dependence, error) {
	if !cfg.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown codependence %d", domain.ErrInvalidConfiguration, int(cfg.Method))
	}
	n := returns.N()
	if n < 2 {
		return nil, fmt.Errorf("%w: clustering needs at least 2 assets, got %d", domain.ErrInsufficientData, n)
	}
	columns := returns.Columns()
	for j, col := range columns {
		if stat.Variance(col, nil) <= 0 {
			return nil, fmt.Errorf("%w: asset %s has constant returns", domain.ErrInsufficientData, returns.Assets()[j])
		}
	}

	dep := &Dependence{
		Codependence: mat.NewSymDense(n, nil),
		Distance:     mat.NewSymDense(n, nil),
		Similarity:   mat.NewSymDense(n, nil),
	}

	switch cfg.Method {
	case Pearson, AbsPearson, Spearman, AbsSpearman:
		if cfg.Method == Spearman || cfg.Method == AbsSpearman {
			for j := range columns {
				columns[j] = formulas.Ranks(columns[j])
			}
		}
		absolute := cfg.Method == AbsPearson || cfg.Method == AbsSpearman
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				rho := 1.0
				if i != j {
					rho = clamp(stat.Correlation(columns[i], columns[j], nil), -1, 1)
				}
				if absolute {
					rho = math.Abs(rho)
					dep.set(i, j, rho, math.Sqrt(math.Max(1-rho, 0)), rho)
				} else {
					dep.set(i, j, rho, math.Sqrt(math.Max(0.5*(1-rho), 0)), 0.5*(1+rho))
				}
			}
		}

	case DistanceCorrelation:
		centered := make([]*mat.Dense, n)
		for j := range columns {
			centered[j] = doubleCenteredDistances(columns[j])
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				d := 1.0
				if i != j {
					d = distanceCorrelation(centered[i], centered[j])
				}
				dep.set(i, j, d, math.Sqrt(math.Max(1-d, 0)), d)
			}
		}

	case MutualInformation:
		bins := cfg.Bins
		if bins == 0 {
			bins = Knuth
		}
		if !bins.Valid() {
			return nil, fmt.Errorf("%w: unknown bins rule %d", domain.ErrInvalidConfiguration, int(bins))
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				info := mutualInformation(columns[i], columns[j], bins, i == j)
				dep.set(i, j, info.normalizedMI, info.normalizedVI, 1-info.normalizedVI)
			}
		}

	case TailDependence:
		alpha := cfg.AlphaTail
		if alpha == 0 {
			alpha = 0.05
		}
		if !(alpha > 0 && alpha < 1) {
			return nil, fmt.Errorf("%w: alpha_tail must be in (0, 1), got %v", domain.ErrInvalidConfiguration, alpha)
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				lambda := 1.0
				if i != j {
					lambda = lowerTailDependence(columns[i], columns[j], alpha)
				}
				// An empty joint tail would be infinitely far; cap it.
				d := -math.Log(math.Max(lambda, 1e-6))
				dep.set(i, j, lambda, d, lambda)
			}
		}
	}
	return dep, nil
}

func (d *Dependence) set(i, j int, codep, dist, sim float64) {
	if i == j {
		dist = 0
	}
	d.Codependence.SetSym(i, j, codep)
	d.Distance.SetSym(i, j, dist)
	d.Similarity.SetSym(i, j, clamp(sim, 0, 1))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// doubleCenteredDistances returns the doubly centered matrix of |x_a - x_b|.
func doubleCenteredDistances(x []float64) *mat.Dense {
	t := len(x)
	a := mat.NewDense(t, t, nil)
	rowMean := make([]float64, t)
	grand := 0.0
	for p := 0; p < t; p++ {
		for q := 0; q < t; q++ {
			v := math.Abs(x[p] - x[q])
			a.Set(p, q, v)
			rowMean[p] += v
		}
		grand += rowMean[p]
		rowMean[p] /= float64(t)
	}
	grand /= float64(t * t)
	for p := 0; p < t; p++ {
		for q := 0; q < t; q++ {
			a.Set(p, q, a.At(p, q)-rowMean[p]-rowMean[q]+grand)
		}
	}
	return a
}

func distanceCorrelation(a, b *mat.Dense) float64 {
	cov := meanProduct(a, b)
	va := meanProduct(a, a)
	vb := meanProduct(b, b)
	if va <= 0 || vb <= 0 {
		return 0
	}
	return math.Sqrt(math.Max(cov, 0) / math.Sqrt(va*vb))
}

func meanProduct(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	sum := 0.0
	for p := 0; p < r; p++ {
		for q := 0; q < c; q++ {
			sum += a.At(p, q) * b.At(p, q)
		}
	}
	return sum / float64(r*c)
}

// lowerTailDependence is the share of the alpha lower tail of x in which y is also in
// its own alpha lower tail.
func lowerTailDependence(x, y []float64, alpha float64) float64 {
	t := len(x)
	k := int(math.Ceil(float64(t) * alpha))
	if k < 1 {
		k = 1
	}
	qx := kthSmallest(x, k)
	qy := kthSmallest(y, k)
	joint := 0
	for p := range x {
		if x[p] <= qx && y[p] <= qy {
			joint++
		}
	}
	return math.Min(float64(joint)/float64(k), 1)
}

func kthSmallest(x []float64, k int) float64 {
	sorted := append([]float64(nil), x...)
	sortFloats(sorted)
	return sorted[k-1]
}
