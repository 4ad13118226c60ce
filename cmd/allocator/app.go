package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/performance"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/rs/zerolog"
)

// app holds what every subcommand shares. A CLI run is short lived, so one instance is
// built in main and handed to the commands.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer
}

// openStore opens the dataset database under the configured data directory.
func (a *app) openStore() (*returns.Store, func() error, error) {
	db, err := database.New(database.Config{
		Path:    a.cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "returns",
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return returns.NewStore(db.Conn(), a.log), db.Close, nil
}

// seriesFlags selects the returns a command works on: a CSV file or a stored dataset.
type seriesFlags struct {
	csv     string
	dataset string
	prices  bool
	assets  string
}

func (s *seriesFlags) register(f *flag.FlagSet) {
	f.StringVar(&s.csv, "csv", "", "CSV file of returns, header row of asset names and an optional date column")
	f.StringVar(&s.dataset, "dataset", "", "Name of a stored dataset (see 'allocator import')")
	f.BoolVar(&s.prices, "prices", false, "The CSV holds prices; convert them to simple returns")
	f.StringVar(&s.assets, "assets", "", "Comma separated subset of the assets to use")
}

func (s *seriesFlags) load(ctx context.Context, a *app) (domain.ReturnSeries, error) {
	if (s.csv == "") == (s.dataset == "") {
		return domain.ReturnSeries{}, fmt.Errorf("%w: give exactly one of -csv or -dataset", domain.ErrInvalidConfiguration)
	}

	var series domain.ReturnSeries
	if s.csv != "" {
		f, err := os.Open(s.csv)
		if err != nil {
			return domain.ReturnSeries{}, err
		}
		defer f.Close()
		if series, err = returns.ReadCSV(f, returns.CSVOptions{Prices: s.prices}); err != nil {
			return domain.ReturnSeries{}, err
		}
	} else {
		store, closeStore, err := a.openStore()
		if err != nil {
			return domain.ReturnSeries{}, err
		}
		defer closeStore()
		if series, err = store.Load(ctx, s.dataset); err != nil {
			return domain.ReturnSeries{}, err
		}
	}

	if s.assets == "" {
		return series, nil
	}
	return series.Select(splitList(s.assets))
}

// marketFlags carries the annual risk-free rate and the sampling frequency.
type marketFlags struct {
	riskFree  float64
	frequency string
}

func (m *marketFlags) register(f *flag.FlagSet) {
	f.Float64Var(&m.riskFree, "rf", 0, "Annual risk-free rate")
	f.StringVar(&m.frequency, "freq", "", "Sampling frequency of the returns: D, W or M (default from ALLOCATOR_FREQUENCY)")
}

func (m *marketFlags) scale(engine config.EngineConfig) (httpapi.Scale, error) {
	return httpapi.Market{RiskFree: m.riskFree, Frequency: m.frequency}.Resolve(engine)
}

// riskFlags selects a risk measure.
type riskFlags struct {
	measure string
	alpha   float64
}

func (r *riskFlags) register(f *flag.FlagSet) {
	f.StringVar(&r.measure, "measure", "MV", "Risk measure tag, for example MV, CVaR, EVaR or MDD")
	f.Float64Var(&r.alpha, "alpha", 0, "Significance level of tail measures (default from ALLOCATOR_ALPHA)")
}

func (r *riskFlags) spec() httpapi.RiskSpec {
	return httpapi.RiskSpec{Measure: r.measure, Alpha: r.alpha}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseWeights reads "A=0.6,B=0.4".
func parseWeights(s string) (domain.Weights, error) {
	var assets []string
	var values []float64
	for _, pair := range splitList(s) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return domain.Weights{}, fmt.Errorf("%w: weight %q is not asset=value", domain.ErrInvalidConfiguration, pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return domain.Weights{}, fmt.Errorf("%w: weight %q: %v", domain.ErrInvalidConfiguration, pair, err)
		}
		assets = append(assets, strings.TrimSpace(name))
		values = append(values, v)
	}
	return domain.NewWeights(assets, values)
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printWeights(w domain.Weights) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Asset\tWeight\t")
	for i, asset := range w.Assets {
		fmt.Fprintf(tw, "%s\t%.2f%%\t\n", asset, 100*w.Values[i])
	}
	tw.Flush()
}

func (a *app) printPerformance(p performance.Performance) {
	fmt.Fprintf(a.out, "\n%-18s%9.2f%%\n", "Expected return", 100*p.AnnualizedReturn)
	fmt.Fprintf(a.out, "%-18s%10.4f\n", "Risk ("+p.RiskMeasure.String()+")", p.AnnualizedRisk)
	fmt.Fprintf(a.out, "%-18s%10.4f\n", "Ratio", p.Ratio)
}
