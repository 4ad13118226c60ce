package clustering

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Bins selects the histogram rule used to discretize returns for mutual information.
type Bins int

const (
	Knuth Bins = iota + 1
	FreedmanDiaconis
	Scott
	HacineGharbi
)

var binTags = map[Bins]string{
	Knuth:            "KN",
	FreedmanDiaconis: "FD",
	Scott:            "SC",
	HacineGharbi:     "HGR",
}

// ParseBins resolves a bins tag such as "KN" or "hgr".
func ParseBins(tag string) (Bins, error) {
	for b, name := range binTags {
		if strings.EqualFold(name, tag) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown bins rule %q", domain.ErrInvalidConfiguration, tag)
}

func (b Bins) String() string {
	if name, ok := binTags[b]; ok {
		return name
	}
	return fmt.Sprintf("Bins(%d)", int(b))
}

// Valid reports whether b is a declared rule.
func (b Bins) Valid() bool {
	_, ok := binTags[b]
	return ok
}

type information struct {
	normalizedMI float64
	normalizedVI float64
}

// mutualInformation discretizes both series on a shared bin count and returns mutual
// information normalized by the smaller marginal entropy and variation of information
// normalized by the joint entropy.
func mutualInformation(x, y []float64, rule Bins, same bool) information {
	if same {
		return information{normalizedMI: 1, normalizedVI: 0}
	}
	k := pairBins(x, y, rule)
	bx := discretize(x, k)
	by := discretize(y, k)

	t := float64(len(x))
	joint := make(map[[2]int]float64)
	px := make([]float64, k)
	py := make([]float64, k)
	for p := range bx {
		joint[[2]int{bx[p], by[p]}]++
		px[bx[p]]++
		py[by[p]]++
	}

	hx, hy := entropy(px, t), entropy(py, t)
	hxy, mi := 0.0, 0.0
	for cell, c := range joint {
		pxy := c / t
		hxy -= pxy * math.Log(pxy)
		mi += pxy * math.Log(pxy/((px[cell[0]]/t)*(py[cell[1]]/t)))
	}
	mi = math.Max(mi, 0)

	out := information{}
	if minH := math.Min(hx, hy); minH > 0 {
		out.normalizedMI = math.Min(mi/minH, 1)
	}
	if hxy > 0 {
		out.normalizedVI = clamp((hx+hy-2*mi)/hxy, 0, 1)
	}
	return out
}

func entropy(counts []float64, total float64) float64 {
	h := 0.0
	for _, c := range counts {
		if c > 0 {
			p := c / total
			h -= p * math.Log(p)
		}
	}
	return h
}

func discretize(x []float64, k int) []int {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]int, len(x))
	width := (hi - lo) / float64(k)
	if width == 0 {
		return out
	}
	for p, v := range x {
		b := int((v - lo) / width)
		if b >= k {
			b = k - 1
		}
		out[p] = b
	}
	return out
}

func pairBins(x, y []float64, rule Bins) int {
	n := len(x)
	var k float64
	switch rule {
	case HacineGharbi:
		rho := stat.Correlation(x, y, nil)
		if math.IsNaN(rho) || 1-rho*rho < 1e-12 {
			k = univariateHGR(n)
		} else {
			k = math.Round(math.Sqrt(1+math.Sqrt(1+24*float64(n)/(1-rho*rho))) / math.Sqrt2)
		}
	default:
		k = math.Round(math.Max(ruleBins(x, rule), ruleBins(y, rule)))
	}
	return int(clamp(k, 1, float64(n)))
}

func univariateHGR(n int) float64 {
	nf := float64(n)
	xi := math.Cbrt(8 + 324*nf + 12*math.Sqrt(36*nf+729*nf*nf))
	return math.Round(xi/6 + 2/(3*xi) + 1.0/3)
}

// ruleBins returns range/width for the univariate rules.
func ruleBins(x []float64, rule Bins) float64 {
	sorted := append([]float64(nil), x...)
	sortFloats(sorted)
	n := float64(len(x))
	spread := sorted[len(sorted)-1] - sorted[0]
	if spread == 0 {
		return 1
	}
	var width float64
	switch rule {
	case FreedmanDiaconis:
		iqr := stat.Quantile(0.75, stat.LinInterp, sorted, nil) - stat.Quantile(0.25, stat.LinInterp, sorted, nil)
		width = 2 * iqr * math.Pow(n, -1.0/3)
	case Scott:
		width = 3.5 * stat.StdDev(x, nil) * math.Pow(n, -1.0/3)
	default:
		return float64(knuthBins(sorted))
	}
	if width <= 0 {
		return 1
	}
	return spread / width
}

// knuthBins maximizes Knuth's posterior for the number of equal-width bins.
func knuthBins(sorted []float64) int {
	n := len(sorted)
	best, bestM := math.Inf(-1), 1
	limit := n
	if limit > 200 {
		limit = 200
	}
	for m := 1; m <= limit; m++ {
		counts := make([]float64, m)
		for _, b := range discretize(sorted, m) {
			counts[b]++
		}
		mf, nf := float64(m), float64(n)
		lgHalfM, _ := math.Lgamma(mf / 2)
		lgHalf, _ := math.Lgamma(0.5)
		lgNM, _ := math.Lgamma(nf + mf/2)
		score := nf*math.Log(mf) + lgHalfM - mf*lgHalf - lgNM
		for _, c := range counts {
			lg, _ := math.Lgamma(c + 0.5)
			score += lg
		}
		if score > best {
			best, bestM = score, m
		}
	}
	return bestM
}

func sortFloats(x []float64) {
	sort.Float64s(x)
}
