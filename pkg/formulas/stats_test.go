package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSimpleReturns(t *testing.T) {
	returns, err := SimpleReturns([]float64{100, 110, 99})
	require.NoError(t, err)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-12)
	assert.InDelta(t, -0.10, returns[1], 1e-12)

	_, err = SimpleReturns([]float64{100})
	assert.Error(t, err)

	_, err = SimpleReturns([]float64{0, 1})
	assert.Error(t, err)
}

func TestCorrelationFromCovariance(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{
		0.04, 0.01,
		0.01, 0.09,
	})

	corr, err := CorrelationFromCovariance(cov)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, corr.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, corr.At(1, 1), 1e-12)
	assert.InDelta(t, 0.01/(0.2*0.3), corr.At(0, 1), 1e-12)

	_, err = CorrelationFromCovariance(mat.NewSymDense(2, []float64{0, 0, 0, 1}))
	assert.Error(t, err)
}

func TestStdDevs(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 9})
	assert.Equal(t, []float64{2, 3}, StdDevs(cov))
}

func TestRanks(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"distinct", []float64{0.3, 0.1, 0.2}, []float64{3, 1, 2}},
		{"ties averaged", []float64{1, 2, 2, 3}, []float64{1, 2.5, 2.5, 4}},
		{"all equal", []float64{5, 5, 5}, []float64{2, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Ranks(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	out, err := Normalize([]float64{1, 3}, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, out, 1e-12)

	_, err = Normalize([]float64{0, 0}, 1)
	assert.Error(t, err)
}

func TestGoldenSection(t *testing.T) {
	x, fx := GoldenSection(func(x float64) float64 { return (x - 1.5) * (x - 1.5) }, -10, 10, 1e-9)
	assert.InDelta(t, 1.5, x, 1e-6)
	assert.InDelta(t, 0.0, fx, 1e-12)

	x, _ = GoldenSection(func(x float64) float64 { return x }, 2, 5, 1e-9)
	assert.InDelta(t, 2.0, x, 1e-6, "monotone functions converge to the lower bound")
}

func TestMinimizeScalar(t *testing.T) {
	x, fx, err := MinimizeScalar(func(x float64) float64 { return math.Cosh(x-0.7) - 1 }, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, x, 1e-5)
	assert.InDelta(t, 0.0, fx, 1e-9)

	_, _, err = MinimizeScalar(func(float64) float64 { return math.NaN() }, 0)
	assert.Error(t, err, "an undefined objective cannot converge")
}
