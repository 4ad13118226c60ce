package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnSeries(t *testing.T) {
	tests := []struct {
		name    string
		assets  []string
		rows    [][]float64
		wantErr error
	}{
		{
			name:   "valid two by two",
			assets: []string{"A", "B"},
			rows:   [][]float64{{0.01, 0.02}, {-0.01, 0.00}},
		},
		{
			name:    "single period",
			assets:  []string{"A"},
			rows:    [][]float64{{0.01}},
			wantErr: ErrInsufficientData,
		},
		{
			name:    "duplicate asset",
			assets:  []string{"A", "A"},
			rows:    [][]float64{{0.01, 0.02}, {0.01, 0.02}},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "ragged row",
			assets:  []string{"A", "B"},
			rows:    [][]float64{{0.01, 0.02}, {0.01}},
			wantErr: ErrInvalidConfiguration,
		},
		{
			name:    "no assets",
			assets:  nil,
			rows:    [][]float64{{}, {}},
			wantErr: ErrInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewReturnSeries(tt.assets, tt.rows)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.rows), s.T())
			assert.Equal(t, len(tt.assets), s.N())
		})
	}
}

func TestReturnSeries_PortfolioAndSubset(t *testing.T) {
	s, err := NewReturnSeries([]string{"A", "B", "C"}, [][]float64{
		{0.01, 0.02, 0.03},
		{0.00, -0.01, 0.02},
		{0.02, 0.01, -0.01},
	})
	require.NoError(t, err)

	r, err := s.Portfolio([]float64{0.5, 0.5, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.015, -0.005, 0.015}, r, 1e-12)

	sub, err := s.Select([]string{"C", "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A"}, sub.Assets())
	assert.Equal(t, []float64{0.03, 0.02, -0.01}, sub.Column(0))

	_, err = s.Portfolio([]float64{1})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestReturnSeries_WithPeriods(t *testing.T) {
	s, err := NewReturnSeries([]string{"A"}, [][]float64{{0.01}, {0.02}})
	require.NoError(t, err)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	withDates, err := s.WithPeriods([]time.Time{day, day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, withDates.Periods(), 2)

	_, err = s.WithPeriods([]time.Time{day, day})
	assert.Error(t, err)
}

func TestWeights_Books(t *testing.T) {
	w, err := NewWeights([]string{"A", "B", "C"}, []float64{0.8, 0.5, -0.3})
	require.NoError(t, err)

	assert.InDelta(t, 1.3, w.Long(), 1e-12)
	assert.InDelta(t, 0.3, w.Short(), 1e-12)
	assert.NoError(t, w.CheckBudget(Budget{Long: 1.3, Short: 0.3}))
	assert.Error(t, w.CheckBudget(Budget{Long: 1}))
	assert.Equal(t, 0.5, w.Get("B"))
	assert.Equal(t, 0.0, w.Get("missing"))

	sorted := w.Sorted()
	assert.Equal(t, []string{"A", "B", "C"}, sorted.Assets)

	reordered, err := w.Reorder([]string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.3, 0.8, 0.5}, reordered.Values)
}

func TestBudget_Validate(t *testing.T) {
	assert.NoError(t, DefaultBudget().Validate())
	assert.NoError(t, Budget{Long: 1.3, Short: 0.3}.Validate())
	assert.Error(t, Budget{Long: 0}.Validate())
	assert.Error(t, Budget{Long: 1, Short: -0.1}.Validate())
	assert.InDelta(t, 1.0, Budget{Long: 1.3, Short: 0.3}.Net(), 1e-12)
}

func TestResult_Variants(t *testing.T) {
	w, err := NewWeights([]string{"A"}, []float64{1})
	require.NoError(t, err)

	ok := Feasible(w)
	got, feasible := ok.Weights()
	assert.True(t, feasible)
	assert.Equal(t, w, got)
	_, infeasible := ok.Infeasibility()
	assert.False(t, infeasible)

	bad := InfeasibleResult(ReasonConstraints, "target return %.2f above %.2f", 0.5, 0.1)
	_, feasible = bad.Weights()
	assert.False(t, feasible)
	info, infeasible := bad.Infeasibility()
	assert.True(t, infeasible)
	assert.Equal(t, ReasonConstraints, info.Reason)
	assert.Contains(t, bad.String(), "constraints")
}
