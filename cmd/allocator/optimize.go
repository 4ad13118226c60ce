package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/performance"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/google/subcommands"
)

// optimizeCmd holds the flags for the 'optimize' subcommand.
type optimizeCmd struct {
	*app
	series    seriesFlags
	market    marketFlags
	risk      riskFlags
	model     string
	objective string
	covMethod string
	target    string
	short     float64
	capital   string
	currency  string
	json      bool
}

func (*optimizeCmd) Name() string     { return "optimize" }
func (*optimizeCmd) Synopsis() string { return "compute optimal portfolio weights" }
func (*optimizeCmd) Usage() string {
	return `allocator optimize (-csv <file> | -dataset <name>) [-model <model>] [-measure <tag>] [-objective <tag>]

  Computes the weights of a portfolio over the given returns.
  Models: mean-risk, risk-parity, hrp, herc, nco, max-diversification,
  max-decorrelation, equal-weight.
`
}

func (c *optimizeCmd) SetFlags(f *flag.FlagSet) {
	c.series.register(f)
	c.market.register(f)
	c.risk.register(f)
	f.StringVar(&c.model, "model", "mean-risk", "Portfolio model")
	f.StringVar(&c.objective, "objective", "MinRisk", "Objective of mean-risk and NCO models: MinRisk, Utility, Sharpe or MaxRet")
	f.StringVar(&c.covMethod, "cov", "", "Covariance estimator tag (default historical)")
	f.StringVar(&c.target, "target-return", "", "Annual minimum expected return of mean-risk portfolios")
	f.Float64Var(&c.short, "short", 0, "Short budget of mean-risk portfolios")
	f.StringVar(&c.capital, "capital", "", "Capital to split across the weights, for example 10000")
	f.StringVar(&c.currency, "currency", "EUR", "Currency of the capital: EUR, USD or GBP")
	f.BoolVar(&c.json, "json", false, "Print the result as JSON")
}

// optimizeResult is what 'optimize -json' prints.
type optimizeResult struct {
	Model       string                   `json:"model"`
	Weights     domain.Weights           `json:"weights"`
	Performance *performance.Performance `json:"performance,omitempty"`
	Allocation  *allocation.Plan         `json:"allocation,omitempty"`
	Clusters    [][]string               `json:"clusters,omitempty"`
}

func (c *optimizeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	series, err := c.series.load(ctx, c.app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading returns: %v\n", err)
		return subcommands.ExitUsageError
	}
	scale, err := c.market.scale(c.cfg.Engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	out, spec, err := c.run(series, scale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error optimizing: %v\n", err)
		return subcommands.ExitFailure
	}

	perf, err := scale.Performance(out.Weights.Values, series, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing performance: %v\n", err)
		return subcommands.ExitFailure
	}
	out.Performance = &perf

	if c.capital != "" {
		plan, err := httpapi.Allocation{Capital: c.capital, Currency: c.currency}.Plan(out.Weights)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error allocating capital: %v\n", err)
			return subcommands.ExitUsageError
		}
		out.Allocation = &plan
	}

	if c.json {
		if err := c.printJSON(out); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	c.printWeights(out.Weights)
	c.printPerformance(perf)
	if out.Allocation != nil {
		fmt.Fprintln(c.out)
		for _, a := range out.Allocation.Amounts {
			fmt.Fprintf(c.out, "%-18s%14s %s\n", a.Asset, a.Value.StringFixed(2), a.Currency)
		}
	}
	return subcommands.ExitSuccess
}

// run dispatches to the selected model and returns the weights with the measure they
// are reported under.
func (c *optimizeCmd) run(series domain.ReturnSeries, scale httpapi.Scale) (optimizeResult, risk.Spec, error) {
	engine := c.cfg.Engine
	estimator := estimation.NewEstimator(c.log)
	out := optimizeResult{Model: c.model}

	spec, err := c.risk.spec().Spec(engine)
	if err != nil {
		return out, risk.Spec{}, err
	}
	objective, err := optimization.ParseObjective(c.objective)
	if err != nil {
		return out, risk.Spec{}, err
	}
	_, cov, decay, err := httpapi.Estimation{CovMethod: c.covMethod}.Methods(engine)
	if err != nil {
		return out, risk.Spec{}, err
	}
	solver := optimization.DefaultSolverSettings()
	if engine.MaxIterations > 0 {
		solver.MaxIterations = engine.MaxIterations
	}

	var res domain.Result
	switch model := strings.ToLower(c.model); model {
	case "mean-risk":
		opts := []optimization.MeanRiskOption{
			optimization.WithRiskFree(scale.RiskFree()),
			optimization.WithBudget(domain.Budget{Long: 1, Short: c.short}),
			optimization.WithCovMethod(cov),
			optimization.WithDecayFactor(decay),
			optimization.WithSolverSettings(solver),
		}
		if c.target != "" {
			annual, err := strconv.ParseFloat(c.target, 64)
			if err != nil {
				return out, risk.Spec{}, fmt.Errorf("%w: invalid target return %q", domain.ErrInvalidConfiguration, c.target)
			}
			opts = append(opts, optimization.WithTargetReturn(*scale.Return(&annual)))
		}
		cfg, err := optimization.NewMeanRiskConfig(spec, objective, opts...)
		if err != nil {
			return out, risk.Spec{}, err
		}
		res, err = optimization.NewMeanRiskOptimizer(estimator, c.log).Optimize(series, cfg)
		if err != nil {
			return out, risk.Spec{}, err
		}

	case "risk-parity":
		cfg := optimization.RiskParityConfig{Risk: spec, CovMethod: cov, DecayFactor: decay, Solver: solver}
		if res, err = optimization.NewRiskParityOptimizer(estimator, c.log).Optimize(series, cfg); err != nil {
			return out, risk.Spec{}, err
		}

	case "hrp", "herc", "nco":
		cfg := optimization.DefaultHierarchicalConfig()
		if cfg.Model, err = optimization.ParseHierarchicalModel(model); err != nil {
			return out, risk.Spec{}, err
		}
		cfg.Risk = spec
		cfg.Objective = objective
		cfg.CovMethod = cov
		cfg.DecayFactor = decay
		cfg.RiskFree = scale.RiskFree()
		cfg.Solver = solver
		if err := cfg.Validate(); err != nil {
			return out, risk.Spec{}, err
		}
		hr, err := optimization.NewHierarchicalOptimizer(clustering.NewClusterer(c.log), estimator, c.log).Optimize(series, cfg)
		if err != nil {
			return out, risk.Spec{}, err
		}
		res, out.Clusters = hr.Result, hr.Clusters

	case "max-diversification", "max-decorrelation":
		cfg := optimization.DiversificationConfig{CovMethod: cov, DecayFactor: decay, Solver: solver}
		opt := optimization.NewDiversificationOptimizer(estimator, c.log)
		if model == "max-diversification" {
			res, err = opt.MaxDiversification(series, cfg)
		} else {
			res, err = opt.MaxDecorrelation(series, cfg)
		}
		if err != nil {
			return out, risk.Spec{}, err
		}
		spec = risk.MustSpec(risk.Variance)

	case "equal-weight":
		if res, err = optimization.EqualWeight(series.Assets(), 1); err != nil {
			return out, risk.Spec{}, err
		}

	default:
		return out, risk.Spec{}, fmt.Errorf("%w: unknown model %q", domain.ErrInvalidConfiguration, c.model)
	}

	weights, ok := res.Weights()
	if !ok {
		inf, _ := res.Infeasibility()
		return out, risk.Spec{}, fmt.Errorf("portfolio is %s", inf)
	}
	out.Weights = weights
	return out, spec, nil
}
