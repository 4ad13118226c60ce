// Package optimization builds portfolio allocations: mean-risk programs, risk parity,
// hierarchical clustering models, Black-Litterman and efficient frontiers.
package optimization

import (
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// startFloor is the share of equal weight mixed into a warm start so that no softmax
// coordinate starts saturated.
const startFloor = 0.1

// budgetMap maps unconstrained parameters onto the budget set. The long book is
// Long·softmax(a); with a short budget the short book is Short·softmax(b) and the weights
// are their difference.
type budgetMap struct {
	n      int
	budget domain.Budget
}

func newBudgetMap(n int, budget domain.Budget) budgetMap {
	return budgetMap{n: n, budget: budget}
}

func (b budgetMap) dim() int {
	if b.budget.AllowsShort() {
		return 2 * b.n
	}
	return b.n
}

func softmax(x []float64) []float64 {
	m := floats.Max(x)
	p := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		p[i] = math.Exp(v - m)
		sum += p[i]
	}
	floats.Scale(1/sum, p)
	return p
}

func (b budgetMap) weights(x []float64) []float64 {
	w := softmax(x[:b.n])
	floats.Scale(b.budget.Long, w)
	if b.budget.AllowsShort() {
		q := softmax(x[b.n:])
		floats.AddScaled(w, -b.budget.Short, q)
	}
	return w
}

// pullback maps a gradient with respect to the weights onto the parameters.
func (b budgetMap) pullback(x, gradW, gradX []float64) {
	chain := func(p []float64, scale float64, dst []float64) {
		dot := floats.Dot(gradW, p)
		for j := range p {
			dst[j] = scale * p[j] * (gradW[j] - dot)
		}
	}
	chain(softmax(x[:b.n]), b.budget.Long, gradX[:b.n])
	if b.budget.AllowsShort() {
		chain(softmax(x[b.n:]), -b.budget.Short, gradX[b.n:])
	}
}

// overlap measures how much the long and short books net against each other. It is zero
// only when the books have disjoint support, which the budget identities require.
func (b budgetMap) overlap(x []float64, grad []float64) float64 {
	if !b.budget.AllowsShort() {
		return 0
	}
	p, q := softmax(x[:b.n]), softmax(x[b.n:])
	scale := b.budget.Long * b.budget.Short / math.Max(b.budget.Long, b.budget.Short)
	pq := floats.Dot(p, q)
	if grad != nil {
		for j := 0; j < b.n; j++ {
			grad[j] += scale * p[j] * (q[j] - pq)
			grad[b.n+j] += scale * q[j] * (p[j] - pq)
		}
	}
	return scale * pq
}

// start returns parameters whose weights approximate w mixed with equal weights; a nil w
// starts at equal weights.
func (b budgetMap) start(w []float64) []float64 {
	x := make([]float64, b.dim())
	if w == nil {
		return x
	}
	long, short := make([]float64, b.n), make([]float64, b.n)
	for i, v := range w {
		if v > 0 {
			long[i] = v
		} else {
			short[i] = -v
		}
	}
	fill := func(book []float64, dst []float64) {
		sum := floats.Sum(book)
		for i := range dst {
			share := 1 / float64(b.n)
			if sum > 0 {
				share = (1-startFloor)*book[i]/sum + startFloor/float64(b.n)
			}
			dst[i] = math.Log(share)
		}
	}
	fill(long, x[:b.n])
	if b.budget.AllowsShort() {
		fill(short, x[b.n:])
	}
	return x
}

// repairBudget rescales the long and short books of w onto the budget. When a book is
// missing it is placed on the asset the other book holds least of.
func repairBudget(w []float64, budget domain.Budget) []float64 {
	out := append([]float64(nil), w...)
	long, short := 0.0, 0.0
	for _, v := range out {
		if v > 0 {
			long += v
		} else {
			short -= v
		}
	}
	if budget.Short == 0 {
		for i, v := range out {
			if v < 0 {
				out[i] = 0
			}
		}
		short = 0
	}
	if long <= 0 {
		best := floats.MaxIdx(out)
		out[best] = budget.Long
		long = budget.Long
	}
	if budget.Short > 0 && short <= 0 {
		worst := floats.MinIdx(out)
		out[worst] = -budget.Short
		short = budget.Short
		long = 0
		for _, v := range out {
			if v > 0 {
				long += v
			}
		}
	}
	for i, v := range out {
		switch {
		case v > 0:
			out[i] = v * budget.Long / long
		case v < 0:
			out[i] = v * budget.Short / short
		}
	}
	return out
}

func equalWeights(n int, long float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = long / float64(n)
	}
	return w
}

// maxReturnPortfolio puts the long budget on the best assets and the short budget on the
// worst, splitting ties evenly.
func maxReturnPortfolio(mu []float64, budget domain.Budget) ([]float64, float64) {
	n := len(mu)
	w := make([]float64, n)
	hi := floats.Max(mu)
	var best []int
	for i, m := range mu {
		if m == hi {
			best = append(best, i)
		}
	}
	if budget.AllowsShort() && len(best) == n {
		best = best[:n-1]
	}
	for _, i := range best {
		w[i] = budget.Long / float64(len(best))
	}
	if budget.AllowsShort() {
		lo := math.Inf(1)
		for i, m := range mu {
			if w[i] == 0 && m < lo {
				lo = m
			}
		}
		var worst []int
		for i, m := range mu {
			if w[i] == 0 && m == lo {
				worst = append(worst, i)
			}
		}
		for _, i := range worst {
			w[i] = -budget.Short / float64(len(worst))
		}
	}
	return w, floats.Dot(w, mu)
}
