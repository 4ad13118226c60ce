package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Input names a stored dataset or carries the returns inline. Assets narrows a stored
// dataset to a subset of its columns.
type Input struct {
	Dataset string      `json:"dataset,omitempty"`
	Assets  []string    `json:"assets,omitempty"`
	Returns [][]float64 `json:"returns,omitempty"`
	Dates   []string    `json:"dates,omitempty"`
}

// Resolve returns the series the input describes.
func (in Input) Resolve(ctx context.Context, src Source) (domain.ReturnSeries, error) {
	if in.Dataset != "" {
		if len(in.Returns) > 0 {
			return domain.ReturnSeries{}, fmt.Errorf("%w: give either a dataset or inline returns", domain.ErrInvalidConfiguration)
		}
		if src == nil {
			return domain.ReturnSeries{}, fmt.Errorf("%w: no dataset store configured", domain.ErrInvalidConfiguration)
		}
		series, err := src.Load(ctx, in.Dataset)
		if err != nil {
			return domain.ReturnSeries{}, err
		}
		if len(in.Assets) == 0 {
			return series, nil
		}
		return series.Select(in.Assets)
	}

	if len(in.Returns) == 0 {
		return domain.ReturnSeries{}, fmt.Errorf("%w: no returns provided", domain.ErrInsufficientData)
	}
	series, err := domain.NewReturnSeries(in.Assets, in.Returns)
	if err != nil {
		return domain.ReturnSeries{}, err
	}
	if len(in.Dates) == 0 {
		return series, nil
	}
	periods := make([]time.Time, len(in.Dates))
	for i, d := range in.Dates {
		if periods[i], err = time.Parse(DateLayout, d); err != nil {
			return domain.ReturnSeries{}, fmt.Errorf("%w: invalid date %q", domain.ErrInvalidConfiguration, d)
		}
	}
	return series.WithPeriods(periods)
}
