package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

const invPhi = 0.6180339887498949

var scalarSettings = &fd.Settings{Formula: fd.Central}

// MinimizeScalar minimizes f over the real line from x0 with BFGS on central differences.
// The best point seen is returned even when the run ends without converging, in which
// case the error names the final status.
func MinimizeScalar(f func(float64) float64, x0 float64) (float64, float64, error) {
	if f0 := f(x0); math.IsNaN(f0) || math.IsInf(f0, 0) {
		return x0, f0, fmt.Errorf("scalar minimization: objective is %v at the start", f0)
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return f(x[0]) },
		Grad: func(grad, x []float64) {
			grad[0] = fd.Derivative(f, x[0], scalarSettings)
		},
	}
	result, err := optimize.Minimize(problem, []float64{x0}, &optimize.Settings{
		MajorIterations:   200,
		FuncEvaluations:   2000,
		GradientThreshold: 1e-8,
	}, &optimize.BFGS{})
	if result == nil {
		return math.NaN(), math.NaN(), fmt.Errorf("scalar minimization: %w", err)
	}
	x, fx := result.X[0], result.F
	if err != nil {
		return x, fx, fmt.Errorf("scalar minimization: %w", err)
	}
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.StepConvergence, optimize.MethodConverge:
	default:
		return x, fx, fmt.Errorf("scalar minimization stopped with status %v", result.Status)
	}
	if math.IsNaN(fx) || math.IsInf(fx, 0) {
		return x, fx, fmt.Errorf("scalar minimization reached %v", fx)
	}
	return x, fx, nil
}

// GoldenSection minimizes a unimodal function on [lo, hi] to the given interval tolerance
// and returns the best abscissa and value it saw. The value is NaN when f produced NaN.
func GoldenSection(f func(float64) float64, lo, hi, tol float64) (float64, float64) {
	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	lowVal, highVal := f(c), f(d)
	for i := 0; i < 200 && b-a > tol; i++ {
		if math.IsNaN(lowVal) || math.IsNaN(highVal) {
			return math.NaN(), math.NaN()
		}
		if lowVal < highVal {
			b, d, highVal = d, c, lowVal
			c = b - invPhi*(b-a)
			lowVal = f(c)
		} else {
			a, c, lowVal = c, d, highVal
			d = a + invPhi*(b-a)
			highVal = f(d)
		}
	}
	if lowVal < highVal {
		return c, lowVal
	}
	return d, highVal
}
