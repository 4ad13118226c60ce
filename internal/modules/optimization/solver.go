package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/allocator/internal/domain"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// SolverSettings bound the numerical minimizations behind every optimizer.
type SolverSettings struct {
	// MaxIterations caps the major iterations of one minimization.
	MaxIterations int
	// GradientThreshold stops a minimization once the gradient norm falls below it.
	GradientThreshold float64
}

// DefaultSolverSettings returns the settings used when none are configured.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{MaxIterations: 2000, GradientThreshold: 1e-10}
}

func (s SolverSettings) withDefaults() SolverSettings {
	d := DefaultSolverSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.GradientThreshold <= 0 {
		s.GradientThreshold = d.GradientThreshold
	}
	return s
}

var successStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
	optimize.StepConvergence:     true,
	optimize.MethodConverge:      true,
}

// stage is one step of the smoothing and penalty continuation. tau is relative to the
// typical asset volatility.
type stage struct {
	tau     float64
	penalty float64
}

var continuation = []stage{
	{tau: 1e-2, penalty: 1e2},
	{tau: 1e-3, penalty: 1e4},
	{tau: 1e-4, penalty: 1e6},
}

// objective is a scalar function of the weights. A nil grad is replaced by central
// differences.
type objective struct {
	value func(w []float64) float64
	grad  func(grad, w []float64)
}

func (o objective) gradient(grad, w []float64) {
	if o.grad != nil {
		o.grad(grad, w)
		return
	}
	fd.Gradient(grad, o.value, w, &fd.Settings{Formula: fd.Central, Step: 1e-7})
}

// problem lifts a weight objective onto the budget parametrization.
func (b budgetMap) problem(obj objective, overlapPenalty float64) optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			return obj.value(b.weights(x)) + overlapPenalty*b.overlap(x, nil)
		},
		Grad: func(grad, x []float64) {
			gw := make([]float64, b.n)
			obj.gradient(gw, b.weights(x))
			b.pullback(x, gw, grad)
			if overlapPenalty > 0 {
				extra := make([]float64, len(grad))
				b.overlap(x, extra)
				floats.AddScaled(grad, overlapPenalty, extra)
			}
		},
	}
}

// minimize runs LBFGS and falls back to NelderMead from the last iterate. The returned
// point is the best one found even when an error is returned.
func minimize(problem optimize.Problem, x0 []float64, settings SolverSettings) ([]float64, error) {
	settings = settings.withDefaults()
	result, err := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations:   settings.MaxIterations,
		GradientThreshold: settings.GradientThreshold,
	}, &optimize.LBFGS{})
	if err == nil && successStatuses[result.Status] && finite(result.X) {
		return result.X, nil
	}

	start := x0
	if result != nil && finite(result.X) {
		start = result.X
	}
	fallback, err := optimize.Minimize(problem, start, &optimize.Settings{
		MajorIterations: settings.MaxIterations,
	}, &optimize.NelderMead{})
	if err != nil {
		return start, fmt.Errorf("%w: %v", domain.ErrNonConvergence, err)
	}
	if !successStatuses[fallback.Status] || !finite(fallback.X) {
		return start, fmt.Errorf("%w: optimization did not converge: status=%v", domain.ErrNonConvergence, fallback.Status)
	}
	return fallback.X, nil
}

// continuationSolve minimizes the objectives built for each stage, warm starting every
// stage from the previous one. Only a failure of the last stage is reported.
func continuationSolve(b budgetMap, x0 []float64, settings SolverSettings, build func(s stage) objective) ([]float64, error) {
	x := x0
	for i, s := range continuation {
		next, err := minimize(b.problem(build(s), s.penalty), x, settings)
		if err != nil && i == len(continuation)-1 {
			return b.weights(next), err
		}
		x = next
	}
	return b.weights(x), nil
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return len(x) > 0
}

// hinge2 is the squared positive part, a C¹ penalty for x ≤ 0.
func hinge2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return x * x
}
