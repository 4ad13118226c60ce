package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/google/subcommands"
)

// frontierCmd holds the flags for the 'frontier' subcommand.
type frontierCmd struct {
	*app
	series   seriesFlags
	market   marketFlags
	risk     riskFlags
	points   int
	random   int
	tangency bool
	json     bool
}

func (*frontierCmd) Name() string     { return "frontier" }
func (*frontierCmd) Synopsis() string { return "trace the efficient frontier" }
func (*frontierCmd) Usage() string {
	return `allocator frontier (-csv <file> | -dataset <name>) [-measure <tag>] [-points <n>] [-random <n>]

  Solves minimum risk portfolios for evenly spaced target returns. Risks and returns
  are per period.
`
}

func (c *frontierCmd) SetFlags(f *flag.FlagSet) {
	c.series.register(f)
	c.market.register(f)
	c.risk.register(f)
	f.IntVar(&c.points, "points", 0, "Number of frontier portfolios (default from ALLOCATOR_FRONTIER_POINTS)")
	f.IntVar(&c.random, "random", -1, "Number of random portfolios to sample (default from ALLOCATOR_RANDOM_PORTFOLIOS)")
	f.BoolVar(&c.tangency, "tangency", false, "Also solve the maximum ratio portfolio and the capital allocation line")
	f.BoolVar(&c.json, "json", false, "Print the frontier as JSON")
}

func (c *frontierCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	series, err := c.series.load(ctx, c.app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading returns: %v\n", err)
		return subcommands.ExitUsageError
	}
	cfg, err := c.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	frontier, err := optimization.NewFrontierSampler(estimation.NewEstimator(c.log), c.log).Sample(ctx, series, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sampling the frontier: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.json {
		if err := c.printJSON(frontier); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	c.printFrontier(series.Assets(), frontier)
	return subcommands.ExitSuccess
}

func (c *frontierCmd) config() (optimization.FrontierConfig, error) {
	engine := c.cfg.Engine
	scale, err := c.market.scale(engine)
	if err != nil {
		return optimization.FrontierConfig{}, err
	}
	spec, err := c.risk.spec().Spec(engine)
	if err != nil {
		return optimization.FrontierConfig{}, err
	}
	solver := optimization.DefaultSolverSettings()
	if engine.MaxIterations > 0 {
		solver.MaxIterations = engine.MaxIterations
	}
	base, err := optimization.NewMeanRiskConfig(spec, optimization.MinRisk,
		optimization.WithRiskFree(scale.RiskFree()),
		optimization.WithBudget(domain.DefaultBudget()),
		optimization.WithSolverSettings(solver),
	)
	if err != nil {
		return optimization.FrontierConfig{}, err
	}

	cfg := optimization.DefaultFrontierConfig(base)
	cfg.Points = engine.FrontierPoints
	if c.points != 0 {
		cfg.Points = c.points
	}
	cfg.RandomPortfolios = engine.RandomPortfolios
	if c.random >= 0 {
		cfg.RandomPortfolios = c.random
	}
	cfg.Seed = engine.Seed
	cfg.Parallelism = engine.Parallelism
	cfg.Tangency = c.tangency
	return cfg, cfg.Validate()
}

func (c *frontierCmd) printFrontier(assets []string, frontier optimization.Frontier) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "Risk\tReturn\t")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t", a)
	}
	fmt.Fprintln(tw)
	for _, p := range frontier.Points {
		fmt.Fprintf(tw, "%.6f\t%.6f\t", p.Risk, p.Return)
		for _, a := range assets {
			fmt.Fprintf(tw, "%.2f%%\t", 100*p.Weights.Get(a))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()

	if t := frontier.Tangency; t != nil {
		fmt.Fprintf(c.out, "\nTangency portfolio: risk %.6f, return %.6f\n", t.Risk, t.Return)
	}
	if len(frontier.Random) > 0 {
		fmt.Fprintf(c.out, "%d random portfolios sampled\n", len(frontier.Random))
	}
}
