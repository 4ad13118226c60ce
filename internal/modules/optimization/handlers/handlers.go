// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/performance"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler serves the optimizers over HTTP.
type Handler struct {
	meanRisk        *optimization.MeanRiskOptimizer
	riskParity      *optimization.RiskParityOptimizer
	relaxed         *optimization.RelaxedRiskParityOptimizer
	hierarchical    *optimization.HierarchicalOptimizer
	blackLitterman  *optimization.BlackLittermanOptimizer
	diversification *optimization.DiversificationOptimizer
	frontier        *optimization.FrontierSampler
	source          returns.Source
	engine          config.EngineConfig
	log             zerolog.Logger
}

// NewHandler creates the optimization handler. source may be nil, in which case only
// inline returns are accepted.
func NewHandler(
	estimator optimization.MomentEstimator,
	clusterer optimization.TreeBuilder,
	source returns.Source,
	engine config.EngineConfig,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		meanRisk:        optimization.NewMeanRiskOptimizer(estimator, log),
		riskParity:      optimization.NewRiskParityOptimizer(estimator, log),
		relaxed:         optimization.NewRelaxedRiskParityOptimizer(estimator, log),
		hierarchical:    optimization.NewHierarchicalOptimizer(clusterer, estimator, log),
		blackLitterman:  optimization.NewBlackLittermanOptimizer(estimator, log),
		diversification: optimization.NewDiversificationOptimizer(estimator, log),
		frontier:        optimization.NewFrontierSampler(estimator, log),
		source:          source,
		engine:          engine,
		log:             log.With().Str("handler", "optimization").Logger(),
	}
}

// Request is the part every optimization request shares: the returns, the market
// conventions and the optional derived outputs.
type Request struct {
	returns.Input
	httpapi.Market
	Allocation   *httpapi.Allocation `json:"allocation,omitempty"`
	Groups       map[string][]string `json:"groups,omitempty"`
	GroupTargets map[string]float64  `json:"group_targets,omitempty"`
}

// Response is the answer of every optimization route.
type Response struct {
	ID          string                        `json:"id"`
	Model       string                        `json:"model"`
	Weights     domain.Weights                `json:"weights"`
	Performance *performance.Performance      `json:"performance,omitempty"`
	Allocation  *allocation.Plan              `json:"allocation,omitempty"`
	Groups      []allocation.GroupExposure    `json:"groups,omitempty"`
	Clusters    [][]string                    `json:"clusters,omitempty"`
	Posterior   []float64                     `json:"posterior,omitempty"`
	Categories  []optimization.CategoryWeight `json:"categories,omitempty"`
}

// job carries one request through resolution and response.
type job struct {
	id     string
	model  string
	req    Request
	series domain.ReturnSeries
	scale  httpapi.Scale
}

func (h *Handler) start(r *http.Request, model string, req Request) (*job, error) {
	scale, err := req.Market.Resolve(h.engine)
	if err != nil {
		return nil, err
	}
	series, err := req.Input.Resolve(r.Context(), h.source)
	if err != nil {
		return nil, err
	}
	return &job{id: uuid.New().String(), model: model, req: req, series: series, scale: scale}, nil
}

func (h *Handler) solver() optimization.SolverSettings {
	s := optimization.DefaultSolverSettings()
	if h.engine.MaxIterations > 0 {
		s.MaxIterations = h.engine.MaxIterations
	}
	return s
}

// finish writes the result of a job. Jobs without returns skip the performance report.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, run *job, res domain.Result, spec risk.Spec, decorate func(*Response)) {
	weights, ok := res.Weights()
	if !ok {
		inf, _ := res.Infeasibility()
		httpapi.WriteInfeasible(w, r, h.log, run.id, inf)
		return
	}

	resp := Response{ID: run.id, Model: run.model, Weights: weights}
	if run.series.N() > 0 {
		perf, err := run.scale.Performance(weights.Values, run.series, spec)
		if err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
		resp.Performance = &perf
	}
	if run.req.Allocation != nil {
		plan, err := run.req.Allocation.Plan(weights)
		if err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
		resp.Allocation = &plan
	}
	if len(run.req.Groups) > 0 || len(run.req.GroupTargets) > 0 {
		resp.Groups = allocation.GroupExposures(weights, run.req.Groups, run.req.GroupTargets)
	}
	if decorate != nil {
		decorate(&resp)
	}

	h.log.Info().
		Str("id", run.id).
		Str("model", run.model).
		Int("assets", weights.Len()).
		Msg("Optimization completed")
	httpapi.Write(w, r, h.log, http.StatusOK, resp)
}

// MeanRiskRequest is the body of POST /optimize/mean-risk.
type MeanRiskRequest struct {
	Request
	httpapi.Estimation
	httpapi.Budget
	Risk         httpapi.RiskSpec `json:"risk"`
	Objective    string           `json:"objective,omitempty"`
	RiskAversion float64          `json:"risk_aversion,omitempty"`
	// TargetReturn and TargetRisk are annual.
	TargetReturn *float64 `json:"target_return,omitempty"`
	TargetRisk   *float64 `json:"target_risk,omitempty"`
}

func (h *Handler) meanRiskConfig(req MeanRiskRequest, scale httpapi.Scale) (optimization.MeanRiskConfig, error) {
	spec, err := req.Risk.Spec(h.engine)
	if err != nil {
		return optimization.MeanRiskConfig{}, err
	}
	obj := optimization.MinRisk
	if req.Objective != "" {
		if obj, err = optimization.ParseObjective(req.Objective); err != nil {
			return optimization.MeanRiskConfig{}, err
		}
	}
	mean, cov, decay, err := req.Estimation.Methods(h.engine)
	if err != nil {
		return optimization.MeanRiskConfig{}, err
	}
	budget, err := req.Budget.Resolve()
	if err != nil {
		return optimization.MeanRiskConfig{}, err
	}
	opts := []optimization.MeanRiskOption{
		optimization.WithRiskFree(scale.RiskFree()),
		optimization.WithBudget(budget),
		optimization.WithMeanMethod(mean),
		optimization.WithCovMethod(cov),
		optimization.WithDecayFactor(decay),
		optimization.WithSolverSettings(h.solver()),
	}
	if req.RiskAversion != 0 {
		opts = append(opts, optimization.WithRiskAversion(req.RiskAversion))
	}
	if t := scale.Return(req.TargetReturn); t != nil {
		opts = append(opts, optimization.WithTargetReturn(*t))
	}
	if t := scale.Risk(req.TargetRisk, spec.Measure); t != nil {
		opts = append(opts, optimization.WithTargetRisk(*t))
	}
	return optimization.NewMeanRiskConfig(spec, obj, opts...)
}

// HandleMeanRisk handles POST /optimize/mean-risk
func (h *Handler) HandleMeanRisk(w http.ResponseWriter, r *http.Request) {
	var req MeanRiskRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "mean-risk", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg, err := h.meanRiskConfig(req, run.scale)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.meanRisk.Optimize(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, cfg.Risk, nil)
}

// RiskParityRequest is the body of POST /optimize/risk-parity.
type RiskParityRequest struct {
	Request
	httpapi.Estimation
	Risk         httpapi.RiskSpec `json:"risk"`
	RiskBudgets  []float64        `json:"risk_budgets,omitempty"`
	TargetReturn *float64         `json:"target_return,omitempty"`
	Long         float64          `json:"long,omitempty"`
}

// HandleRiskParity handles POST /optimize/risk-parity
func (h *Handler) HandleRiskParity(w http.ResponseWriter, r *http.Request) {
	var req RiskParityRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "risk-parity", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	spec, err := req.Risk.Spec(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	mean, cov, decay, err := req.Estimation.Methods(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg := optimization.RiskParityConfig{
		Risk:         spec,
		Budgets:      req.RiskBudgets,
		TargetReturn: run.scale.Return(req.TargetReturn),
		Long:         req.Long,
		MeanMethod:   mean,
		CovMethod:    cov,
		DecayFactor:  decay,
		Solver:       h.solver(),
	}
	res, err := h.riskParity.Optimize(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, spec, nil)
}

// RelaxedRiskParityRequest is the body of POST /optimize/relaxed-risk-parity.
type RelaxedRiskParityRequest struct {
	Request
	httpapi.Estimation
	Version       string    `json:"version,omitempty"`
	RiskBudgets   []float64 `json:"risk_budgets,omitempty"`
	PenaltyFactor float64   `json:"penalty_factor,omitempty"`
	TargetReturn  *float64  `json:"target_return,omitempty"`
	Long          float64   `json:"long,omitempty"`
}

// HandleRelaxedRiskParity handles POST /optimize/relaxed-risk-parity
func (h *Handler) HandleRelaxedRiskParity(w http.ResponseWriter, r *http.Request) {
	var req RelaxedRiskParityRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "relaxed-risk-parity", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	version := optimization.RelaxedA
	if req.Version != "" {
		if version, err = optimization.ParseRelaxedVersion(req.Version); err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
	}
	mean, cov, decay, err := req.Estimation.Methods(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg := optimization.RelaxedRiskParityConfig{
		Version:       version,
		Budgets:       req.RiskBudgets,
		PenaltyFactor: req.PenaltyFactor,
		TargetReturn:  run.scale.Return(req.TargetReturn),
		Long:          req.Long,
		MeanMethod:    mean,
		CovMethod:     cov,
		DecayFactor:   decay,
		Solver:        h.solver(),
	}
	res, err := h.relaxed.Optimize(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, risk.MustSpec(risk.Variance), nil)
}

// HierarchicalRequest is the body of POST /optimize/hierarchical.
type HierarchicalRequest struct {
	Request
	httpapi.Estimation
	Model          string           `json:"model,omitempty"`
	Codependence   string           `json:"codependence,omitempty"`
	Linkage        string           `json:"linkage,omitempty"`
	K              int              `json:"k,omitempty"`
	MaxK           int              `json:"max_k,omitempty"`
	Bins           string           `json:"bins,omitempty"`
	AlphaTail      float64          `json:"alpha_tail,omitempty"`
	LeafOrder      *bool            `json:"leaf_order,omitempty"`
	Risk           httpapi.RiskSpec `json:"risk"`
	Objective      string           `json:"objective,omitempty"`
	InterObjective string           `json:"inter_objective,omitempty"`
	RiskAversion   float64          `json:"risk_aversion,omitempty"`
	Long           float64          `json:"long,omitempty"`
}

func (h *Handler) hierarchicalConfig(req HierarchicalRequest, scale httpapi.Scale) (optimization.HierarchicalConfig, error) {
	cfg := optimization.DefaultHierarchicalConfig()
	var err error
	if req.Model != "" {
		if cfg.Model, err = optimization.ParseHierarchicalModel(req.Model); err != nil {
			return cfg, err
		}
	}
	if req.Codependence != "" {
		if cfg.Codependence, err = clustering.ParseCodependence(req.Codependence); err != nil {
			return cfg, err
		}
	}
	if req.Linkage != "" {
		if cfg.Linkage, err = clustering.ParseLinkage(req.Linkage); err != nil {
			return cfg, err
		}
	}
	if req.Bins != "" {
		if cfg.Bins, err = clustering.ParseBins(req.Bins); err != nil {
			return cfg, err
		}
	}
	if req.Objective != "" {
		if cfg.Objective, err = optimization.ParseObjective(req.Objective); err != nil {
			return cfg, err
		}
	}
	if req.InterObjective != "" {
		if cfg.InterObjective, err = optimization.ParseObjective(req.InterObjective); err != nil {
			return cfg, err
		}
	}
	if cfg.Risk, err = req.Risk.Spec(h.engine); err != nil {
		return cfg, err
	}
	if cfg.MeanMethod, cfg.CovMethod, cfg.DecayFactor, err = req.Estimation.Methods(h.engine); err != nil {
		return cfg, err
	}
	cfg.K = req.K
	if req.MaxK != 0 {
		cfg.MaxK = req.MaxK
	}
	if req.AlphaTail != 0 {
		cfg.AlphaTail = req.AlphaTail
	}
	if req.LeafOrder != nil {
		cfg.LeafOrder = *req.LeafOrder
	}
	if req.RiskAversion != 0 {
		cfg.RiskAversion = req.RiskAversion
	}
	if req.Long != 0 {
		cfg.Long = req.Long
	}
	cfg.RiskFree = scale.RiskFree()
	cfg.Solver = h.solver()
	return cfg, cfg.Validate()
}

// HandleHierarchical handles POST /optimize/hierarchical
func (h *Handler) HandleHierarchical(w http.ResponseWriter, r *http.Request) {
	var req HierarchicalRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "hierarchical", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg, err := h.hierarchicalConfig(req, run.scale)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run.model = cfg.Model.String()
	res, err := h.hierarchical.Optimize(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res.Result, cfg.Risk, func(resp *Response) {
		resp.Clusters = res.Clusters
	})
}

// BlackLittermanRequest is the body of POST /optimize/black-litterman.
type BlackLittermanRequest struct {
	Request
	httpapi.Estimation
	httpapi.Budget
	Benchmark []float64   `json:"benchmark,omitempty"`
	P         [][]float64 `json:"p,omitempty"`
	// Q holds the annual view returns.
	Q           []float64        `json:"q,omitempty"`
	Delta       *float64         `json:"delta,omitempty"`
	Equilibrium bool             `json:"equilibrium,omitempty"`
	Optimize    bool             `json:"optimize,omitempty"`
	Tau         float64          `json:"tau,omitempty"`
	Objective   string           `json:"objective,omitempty"`
	Risk        httpapi.RiskSpec `json:"risk"`
}

// HandleBlackLitterman handles POST /optimize/black-litterman
func (h *Handler) HandleBlackLitterman(w http.ResponseWriter, r *http.Request) {
	var req BlackLittermanRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "black-litterman", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg, err := h.blackLittermanConfig(req, run.scale)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	posterior, err := h.blackLitterman.Posterior(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.blackLitterman.Optimize(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, cfg.Risk, func(resp *Response) {
		resp.Posterior = annualize(posterior.Mean, run.scale)
	})
}

func (h *Handler) blackLittermanConfig(req BlackLittermanRequest, scale httpapi.Scale) (optimization.BlackLittermanConfig, error) {
	cfg := optimization.BlackLittermanConfig{
		Benchmark:   req.Benchmark,
		P:           req.P,
		Delta:       req.Delta,
		Equilibrium: req.Equilibrium,
		Optimize:    req.Optimize,
		RiskFree:    scale.RiskFree(),
		Tau:         req.Tau,
		Solver:      h.solver(),
	}
	for _, q := range req.Q {
		cfg.Q = append(cfg.Q, *scale.Return(&q))
	}
	var err error
	if req.Objective != "" {
		if cfg.Objective, err = optimization.ParseObjective(req.Objective); err != nil {
			return cfg, err
		}
	}
	if cfg.Risk, err = req.Risk.Spec(h.engine); err != nil {
		return cfg, err
	}
	if cfg.MeanMethod, cfg.CovMethod, cfg.DecayFactor, err = req.Estimation.Methods(h.engine); err != nil {
		return cfg, err
	}
	if cfg.Budget, err = req.Budget.Resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func annualize(mu []float64, scale httpapi.Scale) []float64 {
	tf := float64(scale.Frequency.PeriodsPerYear())
	out := make([]float64, len(mu))
	for i, v := range mu {
		out[i] = v * tf
	}
	return out
}

// DiversificationRequest is the body of the maximum diversification and decorrelation
// routes.
type DiversificationRequest struct {
	Request
	httpapi.Estimation
	httpapi.Budget
}

func (h *Handler) diversificationConfig(req DiversificationRequest) (optimization.DiversificationConfig, error) {
	_, cov, decay, err := req.Estimation.Methods(h.engine)
	if err != nil {
		return optimization.DiversificationConfig{}, err
	}
	budget, err := req.Budget.Resolve()
	if err != nil {
		return optimization.DiversificationConfig{}, err
	}
	return optimization.DiversificationConfig{Budget: budget, CovMethod: cov, DecayFactor: decay, Solver: h.solver()}, nil
}

// HandleMaxDiversification handles POST /optimize/max-diversification
func (h *Handler) HandleMaxDiversification(w http.ResponseWriter, r *http.Request) {
	h.handleDiversification(w, r, "max-diversification", h.diversification.MaxDiversification)
}

// HandleMaxDecorrelation handles POST /optimize/max-decorrelation
func (h *Handler) HandleMaxDecorrelation(w http.ResponseWriter, r *http.Request) {
	h.handleDiversification(w, r, "max-decorrelation", h.diversification.MaxDecorrelation)
}

func (h *Handler) handleDiversification(w http.ResponseWriter, r *http.Request, model string,
	solve func(domain.ReturnSeries, optimization.DiversificationConfig) (domain.Result, error)) {
	var req DiversificationRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, model, req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg, err := h.diversificationConfig(req)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	res, err := solve(run.series, cfg)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, risk.MustSpec(risk.Variance), nil)
}

// NaiveRequest is the body of the equal-weight and property-weighted routes. Returns are
// optional; without them only the asset names are needed and no performance is reported.
type NaiveRequest struct {
	Request
	Long       float64           `json:"long,omitempty"`
	Values     []float64         `json:"values,omitempty"`
	Categories map[string]string `json:"categories,omitempty"`
}

func (h *Handler) startNaive(r *http.Request, model string, req NaiveRequest) (*job, error) {
	if req.Dataset != "" || len(req.Returns) > 0 {
		return h.start(r, model, req.Request)
	}
	scale, err := req.Market.Resolve(h.engine)
	if err != nil {
		return nil, err
	}
	return &job{id: uuid.New().String(), model: model, req: req.Request, scale: scale}, nil
}

func (j *job) assets() []string {
	if j.series.N() > 0 {
		return j.series.Assets()
	}
	return j.req.Assets
}

// HandleEqualWeight handles POST /optimize/equal-weight
func (h *Handler) HandleEqualWeight(w http.ResponseWriter, r *http.Request) {
	var req NaiveRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.startNaive(r, "equal-weight", req)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	res, err := optimization.EqualWeight(run.assets(), longOrOne(req.Long))
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, risk.MustSpec(risk.Variance), categories(res, req.Categories))
}

// HandlePropertyWeighted handles POST /optimize/property-weighted
func (h *Handler) HandlePropertyWeighted(w http.ResponseWriter, r *http.Request) {
	var req NaiveRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.startNaive(r, "property-weighted", req)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	res, err := optimization.PropertyWeighted(run.assets(), req.Values, longOrOne(req.Long))
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.finish(w, r, run, res, risk.MustSpec(risk.Variance), categories(res, req.Categories))
}

func longOrOne(long float64) float64 {
	if long == 0 {
		return 1
	}
	return long
}

func categories(res domain.Result, byAsset map[string]string) func(*Response) {
	if len(byAsset) == 0 {
		return nil
	}
	return func(resp *Response) {
		if weights, ok := res.Weights(); ok {
			resp.Categories = optimization.AggregateByCategory(weights, byAsset)
		}
	}
}

// FrontierRequest is the body of POST /optimize/frontier.
type FrontierRequest struct {
	Request
	httpapi.Estimation
	httpapi.Budget
	Risk             httpapi.RiskSpec `json:"risk"`
	Points           int              `json:"points,omitempty"`
	RandomPortfolios *int             `json:"random_portfolios,omitempty"`
	Seed             *uint64          `json:"seed,omitempty"`
	Tangency         bool             `json:"tangency,omitempty"`
}

// FrontierResponse is the answer of POST /optimize/frontier. Risks and returns are
// per period, as the optimizers see them.
type FrontierResponse struct {
	ID       string                `json:"id"`
	Frontier optimization.Frontier `json:"frontier"`
}

// HandleFrontier handles POST /optimize/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var req FrontierRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	run, err := h.start(r, "frontier", req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	cfg, err := h.frontierConfig(req, run.scale)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}

	startedAt := time.Now()
	frontier, err := h.frontier.Sample(r.Context(), run.series, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.log.Warn().Str("id", run.id).Err(err).Msg("Frontier sampling interrupted")
		}
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.log.Info().
		Str("id", run.id).
		Int("points", len(frontier.Points)).
		Dur("duration", time.Since(startedAt)).
		Msg("Frontier sampled")
	httpapi.Write(w, r, h.log, http.StatusOK, FrontierResponse{ID: run.id, Frontier: frontier})
}

func (h *Handler) frontierConfig(req FrontierRequest, scale httpapi.Scale) (optimization.FrontierConfig, error) {
	mr := MeanRiskRequest{Request: req.Request, Estimation: req.Estimation, Budget: req.Budget, Risk: req.Risk}
	base, err := h.meanRiskConfig(mr, scale)
	if err != nil {
		return optimization.FrontierConfig{}, err
	}
	cfg := optimization.DefaultFrontierConfig(base)
	if h.engine.FrontierPoints > 0 {
		cfg.Points = h.engine.FrontierPoints
	}
	if req.Points != 0 {
		cfg.Points = req.Points
	}
	cfg.RandomPortfolios = h.engine.RandomPortfolios
	if req.RandomPortfolios != nil {
		cfg.RandomPortfolios = *req.RandomPortfolios
	}
	if h.engine.Seed != 0 {
		cfg.Seed = h.engine.Seed
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if h.engine.Parallelism > 0 {
		cfg.Parallelism = h.engine.Parallelism
	}
	cfg.Tangency = req.Tangency
	return cfg, cfg.Validate()
}
