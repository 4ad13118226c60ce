package testing

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/aristath/allocator/internal/domain"
)

// NewReturnFixture returns a deterministic one-factor daily return sample. Asset j has a
// drift, market beta and idiosyncratic volatility that all increase with j, so the
// last asset has the highest mean and the highest risk.
func NewReturnFixture(t testing.TB, assets, periods int, seed uint64) domain.ReturnSeries {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	names := NewAssetNames(assets)
	rows := make([][]float64, periods)
	for p := range rows {
		market := 0.01 * rng.NormFloat64()
		row := make([]float64, assets)
		for j := range row {
			drift := 0.0002 + 0.0003*float64(j)
			beta := 0.5 + 0.15*float64(j)
			vol := 0.006 + 0.003*float64(j)
			row[j] = drift + beta*market + vol*rng.NormFloat64()
		}
		rows[p] = row
	}

	series, err := domain.NewReturnSeries(names, rows)
	if err != nil {
		t.Fatalf("Failed to build return fixture: %v", err)
	}
	return series
}

// NewClusteredFixture returns a sample where assets come in groups sharing a strong
// group factor, so hierarchical clustering has an obvious answer.
func NewClusteredFixture(t testing.TB, groups, perGroup, periods int, seed uint64) domain.ReturnSeries {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := groups * perGroup
	names := NewAssetNames(n)
	rows := make([][]float64, periods)
	for p := range rows {
		factors := make([]float64, groups)
		for g := range factors {
			factors[g] = 0.012 * rng.NormFloat64()
		}
		row := make([]float64, n)
		for j := range row {
			g := j / perGroup
			row[j] = 0.0003*float64(g+1) + factors[g] + 0.003*rng.NormFloat64()
		}
		rows[p] = row
	}

	series, err := domain.NewReturnSeries(names, rows)
	if err != nil {
		t.Fatalf("Failed to build clustered fixture: %v", err)
	}
	return series
}

// NewSeries builds a series from literal rows and fails the test on error.
func NewSeries(t testing.TB, assets []string, rows [][]float64) domain.ReturnSeries {
	t.Helper()

	series, err := domain.NewReturnSeries(assets, rows)
	if err != nil {
		t.Fatalf("Failed to build series: %v", err)
	}
	return series
}

// NewAssetNames returns A01, A02, ... so lexical and column order agree.
func NewAssetNames(n int) []string {
	names := make([]string, n)
	for j := range names {
		names[j] = fmt.Sprintf("A%02d", j+1)
	}
	return names
}
