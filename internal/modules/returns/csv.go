package returns

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// DateLayout is the layout of the optional leading date column.
const DateLayout = "2006-01-02"

// CSVOptions controls how a CSV file is read.
type CSVOptions struct {
	// Prices means the cells are prices, converted to simple returns on read.
	Prices bool
	// Comma is the field separator; zero means ','.
	Comma rune
}

// ReadCSV parses a table whose header row names the assets. A first column headed
// "date" holds YYYY-MM-DD timestamps.
func ReadCSV(r io.Reader, opts CSVOptions) (domain.ReturnSeries, error) {
	reader := csv.NewReader(r)
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("%w: failed to read csv: %v", domain.ErrInvalidConfiguration, err)
	}
	if len(records) < 2 {
		return domain.ReturnSeries{}, fmt.Errorf("%w: csv has no observations", domain.ErrInsufficientData)
	}

	header := records[0]
	dated := strings.EqualFold(strings.TrimSpace(header[0]), "date")
	first := 0
	if dated {
		first = 1
	}
	assets := make([]string, 0, len(header)-first)
	for _, h := range header[first:] {
		assets = append(assets, strings.TrimSpace(h))
	}

	columns := make([][]float64, len(assets))
	var periods []time.Time
	for i, rec := range records[1:] {
		line := i + 2
		if dated {
			ts, err := time.Parse(DateLayout, strings.TrimSpace(rec[0]))
			if err != nil {
				return domain.ReturnSeries{}, fmt.Errorf("%w: line %d: bad date %q", domain.ErrInvalidConfiguration, line, rec[0])
			}
			periods = append(periods, ts)
		}
		for j, cell := range rec[first:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return domain.ReturnSeries{}, fmt.Errorf("%w: line %d column %s: %v", domain.ErrInvalidConfiguration, line, assets[j], err)
			}
			columns[j] = append(columns[j], v)
		}
	}

	if opts.Prices {
		for j, prices := range columns {
			columns[j], err = formulas.SimpleReturns(prices)
			if err != nil {
				return domain.ReturnSeries{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfiguration, assets[j], err)
			}
		}
		if periods != nil {
			periods = periods[1:]
		}
	}

	series, err := domain.NewReturnSeriesFromColumns(assets, columns)
	if err != nil {
		return domain.ReturnSeries{}, err
	}
	if periods != nil {
		return series.WithPeriods(periods)
	}
	return series, nil
}

// WriteCSV writes series in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, series domain.ReturnSeries) error {
	writer := csv.NewWriter(w)
	periods := series.Periods()

	header := series.Assets()
	if periods != nil {
		header = append([]string{"date"}, header...)
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for t := 0; t < series.T(); t++ {
		rec := make([]string, 0, len(header))
		if periods != nil {
			rec = append(rec, periods[t].Format(DateLayout))
		}
		for _, v := range series.Row(t) {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
