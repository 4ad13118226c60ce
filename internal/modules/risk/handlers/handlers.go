// Package handlers provides HTTP handlers for risk analytics.
package handlers

import (
	"net/http"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// Handler evaluates risk measures of given portfolios.
type Handler struct {
	source returns.Source
	engine config.EngineConfig
	log    zerolog.Logger
}

// NewHandler creates a new risk handler. source may be nil.
func NewHandler(source returns.Source, engine config.EngineConfig, log zerolog.Logger) *Handler {
	return &Handler{
		source: source,
		engine: engine,
		log:    log.With().Str("handler", "risk").Logger(),
	}
}

// Request names a portfolio over a set of returns.
type Request struct {
	returns.Input
	httpapi.Market
	// Weights must cover every asset of the returns.
	Weights domain.Weights   `json:"weights"`
	Risk    httpapi.RiskSpec `json:"risk"`
}

// MeasuresRequest is the body of POST /risk/measure. Without risks every measure is
// evaluated with the default parameters.
type MeasuresRequest struct {
	Request
	Risks []httpapi.RiskSpec `json:"risks,omitempty"`
}

// MeasureValue is one risk measure of a portfolio. Value is the measure itself and
// Ratio the risk used in reward-to-risk ratios (the standard deviation for variance).
type MeasureValue struct {
	Measure string  `json:"measure"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Ratio   float64 `json:"ratio"`
	Error   string  `json:"error,omitempty"`
}

// Contribution is one asset's share of the portfolio risk.
type Contribution struct {
	Asset        string  `json:"asset"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Share        float64 `json:"share"`
}

// ContributionsResponse is the answer of POST /risk/contributions.
type ContributionsResponse struct {
	Measure       string         `json:"measure"`
	Risk          float64        `json:"risk"`
	Contributions []Contribution `json:"contributions"`
}

func (h *Handler) portfolio(r *http.Request, req Request) (domain.ReturnSeries, []float64, error) {
	series, err := req.Input.Resolve(r.Context(), h.source)
	if err != nil {
		return domain.ReturnSeries{}, nil, err
	}
	w, err := req.Weights.Reorder(series.Assets())
	if err != nil {
		return domain.ReturnSeries{}, nil, err
	}
	return series, w.Values, nil
}

// HandleMeasure handles POST /risk/measure
func (h *Handler) HandleMeasure(w http.ResponseWriter, r *http.Request) {
	var req MeasuresRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	series, weights, err := h.portfolio(r, req.Request)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}

	specs := req.Risks
	if len(specs) == 0 {
		for _, m := range risk.Measures() {
			specs = append(specs, httpapi.RiskSpec{Measure: m.String()})
		}
	}

	out := make([]MeasureValue, 0, len(specs))
	for _, s := range specs {
		spec, err := s.Spec(h.engine)
		if err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
		out = append(out, evaluate(series, weights, spec))
	}
	httpapi.Write(w, r, h.log, http.StatusOK, out)
}

// evaluate computes one measure. Failures of a single measure are reported in the row.
func evaluate(series domain.ReturnSeries, weights []float64, spec risk.Spec) MeasureValue {
	row := MeasureValue{Measure: spec.Measure.String(), Name: spec.Measure.DisplayName()}
	eval, err := risk.NewEvaluator(series, spec)
	if err == nil {
		row.Value, err = eval.Risk(weights)
	}
	if err == nil {
		row.Ratio, err = eval.RatioRisk(weights)
	}
	if err != nil {
		row.Error = err.Error()
	}
	return row
}

// HandlePerformance handles POST /risk/performance
func (h *Handler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	scale, err := req.Market.Resolve(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	spec, err := req.Risk.Spec(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	series, weights, err := h.portfolio(r, req)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}

	perf, err := scale.Performance(weights, series, spec)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	httpapi.Write(w, r, h.log, http.StatusOK, perf)
}

// HandleContributions handles POST /risk/contributions
func (h *Handler) HandleContributions(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpapi.Decode(w, r, &req); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	spec, err := req.Risk.Spec(h.engine)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	series, weights, err := h.portfolio(r, req)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}

	eval, err := risk.NewEvaluator(series, spec)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	total, err := eval.RatioRisk(weights)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	contributions, err := eval.Contributions(weights)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}

	resp := ContributionsResponse{Measure: spec.Measure.String(), Risk: total}
	sum := floats.Sum(contributions)
	for i, asset := range series.Assets() {
		c := Contribution{Asset: asset, Weight: weights[i], Contribution: contributions[i]}
		if sum != 0 {
			c.Share = contributions[i] / sum
		}
		resp.Contributions = append(resp.Contributions, c)
	}
	httpapi.Write(w, r, h.log, http.StatusOK, resp)
}
