package returns

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/domain"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		opts    CSVOptions
		assets  []string
		columns [][]float64
		dated   bool
	}{
		{
			name:    "plain returns",
			input:   "AAA,BBB\n0.01,0.02\n-0.01,0.03\n",
			assets:  []string{"AAA", "BBB"},
			columns: [][]float64{{0.01, -0.01}, {0.02, 0.03}},
		},
		{
			name:    "dated returns",
			input:   "date,AAA,BBB\n2024-01-02,0.01,0.02\n2024-01-03,-0.01,0.03\n",
			assets:  []string{"AAA", "BBB"},
			columns: [][]float64{{0.01, -0.01}, {0.02, 0.03}},
			dated:   true,
		},
		{
			name:    "prices",
			input:   "Date;AAA;BBB\n2024-01-02;100;50\n2024-01-03;110;50\n2024-01-04;99;55\n",
			opts:    CSVOptions{Prices: true, Comma: ';'},
			assets:  []string{"AAA", "BBB"},
			columns: [][]float64{{0.1, -0.1}, {0, 0.1}},
			dated:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series, err := ReadCSV(strings.NewReader(tt.input), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.assets, series.Assets())
			for j, col := range tt.columns {
				assert.InDeltaSlice(t, col, series.Column(j), 1e-12)
			}
			assert.Equal(t, tt.dated, series.Periods() != nil)
		})
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"header only", "AAA,BBB\n", domain.ErrInsufficientData},
		{"not a number", "AAA\n0.1\nx\n", domain.ErrInvalidConfiguration},
		{"bad date", "date,AAA\n2024-01-02,0.1\nyesterday,0.2\n", domain.ErrInvalidConfiguration},
		{"dates out of order", "date,AAA\n2024-01-03,0.1\n2024-01-02,0.2\n", domain.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), CSVOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	series := testutil.NewReturnFixture(t, 3, 5, 9)
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	periods := make([]time.Time, 5)
	for i := range periods {
		periods[i] = start.AddDate(0, 0, i)
	}
	series, err := series.WithPeriods(periods)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, series))
	back, err := ReadCSV(&buf, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, series.Columns(), back.Columns())
	assert.Equal(t, series.Periods(), back.Periods())
}
