package allocation

import (
	"testing"

	"github.com/aristath/allocator/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		capital string
		want    []string
	}{
		{
			name:    "thirds",
			weights: []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
			capital: "100",
			want:    []string{"33.34", "33.33", "33.33"},
		},
		{
			name:    "exact",
			weights: []float64{0.25, 0.75},
			capital: "1000",
			want:    []string{"250", "750"},
		},
		{
			name:    "largest remainder wins",
			weights: []float64{0.1231, 0.3333, 0.5436},
			capital: "10",
			want:    []string{"1.23", "3.33", "5.44"},
		},
		{
			name:    "long short nets out",
			weights: []float64{1.3, -0.3},
			capital: "100",
			want:    []string{"130", "-30"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assets := []string{"A", "B", "C"}[:len(tt.weights)]
			plan, err := Split(mustWeights(t, assets, tt.weights), decimal.RequireFromString(tt.capital), domain.CurrencyEUR, 2)
			require.NoError(t, err)
			require.Len(t, plan.Amounts, len(tt.want))
			for i, want := range tt.want {
				assert.True(t, decimal.RequireFromString(want).Equal(plan.Amounts[i].Value),
					"asset %s: want %s, got %s", plan.Amounts[i].Asset, want, plan.Amounts[i].Value)
				assert.Equal(t, domain.CurrencyEUR, plan.Amounts[i].Currency)
			}
		})
	}
}

func TestSplit_SumsToCapital(t *testing.T) {
	w := mustWeights(t, []string{"A", "B", "C", "D", "E", "F", "G"},
		[]float64{0.11, 0.13, 0.17, 0.19, 0.07, 0.23, 0.1})
	capital := decimal.RequireFromString("12345.67")

	plan, err := Split(w, capital, domain.CurrencyUSD, 2)
	require.NoError(t, err)
	assert.True(t, capital.Equal(plan.Total()), "total %s", plan.Total())
	for _, a := range plan.Amounts {
		assert.True(t, a.Value.Equal(a.Value.Round(2)))
	}
}

func TestSplit_Errors(t *testing.T) {
	w := mustWeights(t, []string{"A"}, []float64{1})

	_, err := Split(w, decimal.NewFromInt(-1), domain.CurrencyEUR, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = Split(w, decimal.NewFromInt(1), domain.CurrencyEUR, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = Split(domain.Weights{}, decimal.NewFromInt(1), domain.CurrencyEUR, 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}
