package domain

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ReturnSeries is a T×N matrix of periodic returns: rows are chronological periods,
// columns are assets. It is immutable once built.
type ReturnSeries struct {
	assets  []string
	periods []time.Time
	values  *mat.Dense
	index   map[string]int
}

// NewReturnSeries builds a series from row-major observations (rows[t][j] is the return of
// asset j in period t).
func NewReturnSeries(assets []string, rows [][]float64) (ReturnSeries, error) {
	if len(assets) == 0 {
		return ReturnSeries{}, fmt.Errorf("%w: no assets provided", ErrInsufficientData)
	}
	if len(rows) < 2 {
		return ReturnSeries{}, fmt.Errorf("%w: need at least 2 periods, got %d", ErrInsufficientData, len(rows))
	}

	index := make(map[string]int, len(assets))
	for j, a := range assets {
		if a == "" {
			return ReturnSeries{}, fmt.Errorf("%w: empty asset identifier at column %d", ErrInvalidConfiguration, j)
		}
		if _, dup := index[a]; dup {
			return ReturnSeries{}, fmt.Errorf("%w: duplicate asset %q", ErrInvalidConfiguration, a)
		}
		index[a] = j
	}

	n := len(assets)
	data := make([]float64, 0, len(rows)*n)
	for t, row := range rows {
		if len(row) != n {
			return ReturnSeries{}, fmt.Errorf("%w: period %d has %d values, expected %d", ErrInvalidConfiguration, t, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ReturnSeries{}, fmt.Errorf("%w: non-finite return for %s in period %d", ErrInsufficientData, assets[j], t)
			}
		}
		data = append(data, row...)
	}

	names := make([]string, n)
	copy(names, assets)

	return ReturnSeries{
		assets: names,
		values: mat.NewDense(len(rows), n, data),
		index:  index,
	}, nil
}

// NewReturnSeriesFromColumns builds a series from per-asset columns.
func NewReturnSeriesFromColumns(assets []string, columns [][]float64) (ReturnSeries, error) {
	if len(columns) != len(assets) {
		return ReturnSeries{}, fmt.Errorf("%w: %d columns for %d assets", ErrInvalidConfiguration, len(columns), len(assets))
	}
	if len(columns) == 0 {
		return ReturnSeries{}, fmt.Errorf("%w: no assets provided", ErrInsufficientData)
	}
	t := len(columns[0])
	rows := make([][]float64, t)
	for i := range rows {
		rows[i] = make([]float64, len(columns))
	}
	for j, col := range columns {
		if len(col) != t {
			return ReturnSeries{}, fmt.Errorf("%w: column %s has %d periods, expected %d", ErrInvalidConfiguration, assets[j], len(col), t)
		}
		for i, v := range col {
			rows[i][j] = v
		}
	}
	return NewReturnSeries(assets, rows)
}

// WithPeriods attaches period timestamps, which must be strictly increasing.
func (s ReturnSeries) WithPeriods(periods []time.Time) (ReturnSeries, error) {
	if len(periods) != s.T() {
		return ReturnSeries{}, fmt.Errorf("%w: %d timestamps for %d periods", ErrInvalidConfiguration, len(periods), s.T())
	}
	for i := 1; i < len(periods); i++ {
		if !periods[i].After(periods[i-1]) {
			return ReturnSeries{}, fmt.Errorf("%w: periods are not chronological at %d", ErrInvalidConfiguration, i)
		}
	}
	out := s
	out.periods = make([]time.Time, len(periods))
	copy(out.periods, periods)
	return out, nil
}

// T returns the number of periods.
func (s ReturnSeries) T() int {
	if s.values == nil {
		return 0
	}
	r, _ := s.values.Dims()
	return r
}

// N returns the number of assets.
func (s ReturnSeries) N() int {
	return len(s.assets)
}

// Assets returns a copy of the asset identifiers in column order.
func (s ReturnSeries) Assets() []string {
	out := make([]string, len(s.assets))
	copy(out, s.assets)
	return out
}

// Periods returns a copy of the period timestamps, or nil when none were attached.
func (s ReturnSeries) Periods() []time.Time {
	if s.periods == nil {
		return nil
	}
	out := make([]time.Time, len(s.periods))
	copy(out, s.periods)
	return out
}

// Index returns the column of an asset.
func (s ReturnSeries) Index(asset string) (int, bool) {
	j, ok := s.index[asset]
	return j, ok
}

// Matrix exposes the returns as a read-only gonum matrix.
func (s ReturnSeries) Matrix() mat.Matrix {
	return s.values
}

// At returns the return of asset j in period t.
func (s ReturnSeries) At(t, j int) float64 {
	return s.values.At(t, j)
}

// Row returns a copy of period t.
func (s ReturnSeries) Row(t int) []float64 {
	out := make([]float64, s.N())
	mat.Row(out, t, s.values)
	return out
}

// Column returns a copy of asset j's returns.
func (s ReturnSeries) Column(j int) []float64 {
	out := make([]float64, s.T())
	mat.Col(out, j, s.values)
	return out
}

// Columns returns a copy of every asset column.
func (s ReturnSeries) Columns() [][]float64 {
	out := make([][]float64, s.N())
	for j := range out {
		out[j] = s.Column(j)
	}
	return out
}

// Portfolio returns the portfolio return series r = X·w.
func (s ReturnSeries) Portfolio(w []float64) ([]float64, error) {
	if len(w) != s.N() {
		return nil, fmt.Errorf("%w: %d weights for %d assets", ErrInvalidConfiguration, len(w), s.N())
	}
	r := mat.NewVecDense(s.T(), nil)
	r.MulVec(s.values, mat.NewVecDense(len(w), w))
	return r.RawVector().Data, nil
}

// Subset returns a series restricted to the given columns, in the given order.
func (s ReturnSeries) Subset(columns []int) (ReturnSeries, error) {
	if len(columns) == 0 {
		return ReturnSeries{}, fmt.Errorf("%w: empty column subset", ErrInsufficientData)
	}
	assets := make([]string, len(columns))
	cols := make([][]float64, len(columns))
	for k, j := range columns {
		if j < 0 || j >= s.N() {
			return ReturnSeries{}, fmt.Errorf("%w: column %d out of range", ErrInvalidConfiguration, j)
		}
		assets[k] = s.assets[j]
		cols[k] = s.Column(j)
	}
	out, err := NewReturnSeriesFromColumns(assets, cols)
	if err != nil {
		return ReturnSeries{}, err
	}
	if s.periods != nil {
		return out.WithPeriods(s.periods)
	}
	return out, nil
}

// Select returns a series restricted to the named assets.
func (s ReturnSeries) Select(assets []string) (ReturnSeries, error) {
	columns := make([]int, len(assets))
	for k, a := range assets {
		j, ok := s.index[a]
		if !ok {
			return ReturnSeries{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidConfiguration, a)
		}
		columns[k] = j
	}
	return s.Subset(columns)
}
