package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/google/subcommands"
)

// riskCmd holds the flags for the 'risk' subcommand.
type riskCmd struct {
	*app
	series        seriesFlags
	alpha         float64
	weights       string
	contributions string
	json          bool
}

func (*riskCmd) Name() string     { return "risk" }
func (*riskCmd) Synopsis() string { return "evaluate every risk measure of a portfolio" }
func (*riskCmd) Usage() string {
	return `allocator risk (-csv <file> | -dataset <name>) [-weights A=0.6,B=0.4] [-contributions <tag>]

  Prints every risk measure of the portfolio, per period. Without weights the
  portfolio is equally weighted.
`
}

func (c *riskCmd) SetFlags(f *flag.FlagSet) {
	c.series.register(f)
	f.Float64Var(&c.alpha, "alpha", 0, "Significance level of tail measures (default from ALLOCATOR_ALPHA)")
	f.StringVar(&c.weights, "weights", "", "Portfolio weights as asset=value pairs")
	f.StringVar(&c.contributions, "contributions", "", "Also print the risk contributions under this measure")
	f.BoolVar(&c.json, "json", false, "Print the measures as JSON")
}

// measureRow is one line of the risk table.
type measureRow struct {
	Measure string  `json:"measure"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Ratio   float64 `json:"ratio"`
	Error   string  `json:"error,omitempty"`
}

func (c *riskCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	series, err := c.series.load(ctx, c.app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading returns: %v\n", err)
		return subcommands.ExitUsageError
	}
	w, err := c.portfolio(series)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	var rows []measureRow
	for _, m := range risk.Measures() {
		spec, err := httpapi.RiskSpec{Measure: m.String(), Alpha: c.alpha}.Spec(c.cfg.Engine)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		rows = append(rows, measure(series, w.Values, spec))
	}

	if c.json {
		if err := c.printJSON(rows); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Measure\tName\tValue\tRatio risk")
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t%s\t-\t%s\n", r.Measure, r.Name, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.6f\t%.6f\n", r.Measure, r.Name, r.Value, r.Ratio)
	}
	tw.Flush()

	if c.contributions == "" {
		return subcommands.ExitSuccess
	}
	spec, err := httpapi.RiskSpec{Measure: c.contributions, Alpha: c.alpha}.Spec(c.cfg.Engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	eval, err := risk.NewEvaluator(series, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	contributions, err := eval.Contributions(w.Values)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing contributions: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.out, "\nRisk contributions (%s)\n", spec.Measure)
	tw = tabwriter.NewWriter(c.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	for i, asset := range w.Assets {
		fmt.Fprintf(tw, "%s\t%.6f\t\n", asset, contributions[i])
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

// portfolio returns the requested weights in the order of the series, or equal weights.
func (c *riskCmd) portfolio(series domain.ReturnSeries) (domain.Weights, error) {
	if c.weights == "" {
		res, err := optimization.EqualWeight(series.Assets(), 1)
		if err != nil {
			return domain.Weights{}, err
		}
		w, _ := res.Weights()
		return w, nil
	}
	w, err := parseWeights(c.weights)
	if err != nil {
		return domain.Weights{}, err
	}
	return w.Reorder(series.Assets())
}

func measure(series domain.ReturnSeries, w []float64, spec risk.Spec) measureRow {
	row := measureRow{Measure: spec.Measure.String(), Name: spec.Measure.DisplayName()}
	eval, err := risk.NewEvaluator(series, spec)
	if err == nil {
		row.Value, err = eval.Risk(w)
	}
	if err == nil {
		row.Ratio, err = eval.RatioRisk(w)
	}
	if err != nil {
		row.Error = err.Error()
	}
	return row
}
