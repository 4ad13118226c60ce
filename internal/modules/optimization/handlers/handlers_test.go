package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/clustering"
	"github.com/aristath/allocator/internal/modules/estimation"
	"github.com/aristath/allocator/internal/modules/returns"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// fakeSource serves datasets from memory.
type fakeSource map[string]domain.ReturnSeries

func (f fakeSource) Load(_ context.Context, name string) (domain.ReturnSeries, error) {
	series, ok := f[name]
	if !ok {
		return domain.ReturnSeries{}, fmt.Errorf("dataset %q: %w", name, domain.ErrNotFound)
	}
	return series, nil
}

// pairRows are two uncorrelated assets with variances in ratio 1:4.
var pairRows = [][]float64{
	{0.01, 0.02},
	{-0.01, 0.02},
	{0.01, -0.02},
	{-0.01, -0.02},
}

func testEngine() config.EngineConfig {
	return config.EngineConfig{
		Alpha:            0.05,
		Frequency:        "D",
		DecayFactor:      0.94,
		FrontierPoints:   6,
		RandomPortfolios: 10,
		Seed:             7,
		Parallelism:      2,
	}
}

func newTestRouter(t *testing.T, source fakeSource) chi.Router {
	t.Helper()
	log := zerolog.Nop()
	var src returns.Source
	if source != nil {
		src = source
	}
	h := NewHandler(estimation.NewEstimator(log), clustering.NewClusterer(log), src, testEngine(), log)
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func post(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", httpapi.ContentTypeJSON)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleMeanRisk_MinimumVariance(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := post(t, router, "/optimize/mean-risk", map[string]interface{}{
		"assets":  []string{"LOW", "HIGH"},
		"returns": pairRows,
		"risk":    map[string]interface{}{"measure": "MV"},
		"allocation": map[string]interface{}{
			"capital":  "1000",
			"currency": "usd",
		},
		"groups": map[string][]string{"Defensive": {"LOW"}},
	})
	resp := decodeResponse(t, rec)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "mean-risk", resp.Model)
	assert.Equal(t, []string{"LOW", "HIGH"}, resp.Weights.Assets)
	assert.InDelta(t, 0.8, resp.Weights.Values[0], 1e-3)
	assert.InDelta(t, 0.2, resp.Weights.Values[1], 1e-3)

	require.NotNil(t, resp.Performance)
	assert.Greater(t, resp.Performance.AnnualizedRisk, 0.0)

	require.NotNil(t, resp.Allocation)
	assert.Equal(t, domain.CurrencyUSD, resp.Allocation.Currency)
	assert.True(t, decimal.NewFromInt(1000).Equal(resp.Allocation.Total()), "total %s", resp.Allocation.Total())

	require.Len(t, resp.Groups, 2)
	assert.Equal(t, "Defensive", resp.Groups[0].Name)
	assert.InDelta(t, 0.8, resp.Groups[0].Weight, 1e-3)
}

func TestHandleMeanRisk_Rejections(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		reason string
	}{
		{
			name: "unreachable target return",
			body: map[string]interface{}{
				"assets": []string{"LOW", "HIGH"}, "returns": pairRows,
				"target_return": 100.0,
			},
			status: http.StatusUnprocessableEntity,
			reason: "constraints",
		},
		{
			name: "unknown measure",
			body: map[string]interface{}{
				"assets": []string{"LOW", "HIGH"}, "returns": pairRows,
				"risk": map[string]interface{}{"measure": "XYZ"},
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown objective",
			body: map[string]interface{}{
				"assets": []string{"LOW", "HIGH"}, "returns": pairRows,
				"objective": "Kelly",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unknown frequency",
			body: map[string]interface{}{
				"assets": []string{"LOW", "HIGH"}, "returns": pairRows,
				"frequency": "Q",
			},
			status: http.StatusBadRequest,
		},
		{
			name: "ragged returns",
			body: map[string]interface{}{
				"assets": []string{"LOW", "HIGH"}, "returns": [][]float64{{0.01, 0.02}, {0.01}},
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "no returns",
			body:   map[string]interface{}{"assets": []string{"LOW", "HIGH"}},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown dataset",
			body: map[string]interface{}{
				"dataset": "missing",
			},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, "/optimize/mean-risk", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var body httpapi.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, body.Reason)
				assert.NotEmpty(t, body.ID)
			}
		})
	}
}

func TestHandleMeanRisk_StoredDataset(t *testing.T) {
	series := testutil.NewSeries(t, []string{"LOW", "HIGH"}, pairRows)
	router := newTestRouter(t, fakeSource{"pair": series})

	resp := decodeResponse(t, post(t, router, "/optimize/mean-risk", map[string]interface{}{
		"dataset": "pair",
	}))
	assert.InDelta(t, 0.8, resp.Weights.Values[0], 1e-3)

	rec := post(t, router, "/optimize/mean-risk", map[string]interface{}{"dataset": "other"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(t, router, "/optimize/mean-risk", map[string]interface{}{
		"dataset": "pair",
		"returns": pairRows,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMeanRisk_Msgpack(t *testing.T) {
	router := newTestRouter(t, nil)

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	require.NoError(t, enc.Encode(MeanRiskRequest{
		Request: Request{Input: returns.Input{Assets: []string{"LOW", "HIGH"}, Returns: pairRows}},
	}))

	req := httptest.NewRequest(http.MethodPost, "/optimize/mean-risk", &buf)
	req.Header.Set("Content-Type", httpapi.ContentTypeMsgpack)
	req.Header.Set("Accept", httpapi.ContentTypeMsgpack)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpapi.ContentTypeMsgpack, rec.Header().Get("Content-Type"))

	var resp struct {
		ID      string         `json:"id"`
		Weights domain.Weights `json:"weights"`
	}
	dec := msgpack.NewDecoder(rec.Body)
	dec.SetCustomStructTag("json")
	require.NoError(t, dec.Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.InDelta(t, 0.8, resp.Weights.Values[0], 1e-3)
}

func TestHandleRiskParity(t *testing.T) {
	router := newTestRouter(t, nil)

	resp := decodeResponse(t, post(t, router, "/optimize/risk-parity", map[string]interface{}{
		"assets":  []string{"LOW", "HIGH"},
		"returns": pairRows,
	}))
	assert.InDelta(t, 2.0/3, resp.Weights.Values[0], 1e-3)
	assert.InDelta(t, 1.0/3, resp.Weights.Values[1], 1e-3)

	rec := post(t, router, "/optimize/risk-parity", map[string]interface{}{
		"assets":       []string{"LOW", "HIGH"},
		"returns":      pairRows,
		"risk_budgets": []float64{1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRelaxedRiskParity(t *testing.T) {
	router := newTestRouter(t, nil)

	resp := decodeResponse(t, post(t, router, "/optimize/relaxed-risk-parity", map[string]interface{}{
		"assets":  []string{"LOW", "HIGH"},
		"returns": pairRows,
		"version": "B",
	}))
	assert.InDelta(t, 1, resp.Weights.Values[0]+resp.Weights.Values[1], 1e-6)
	assert.Greater(t, resp.Weights.Values[0], resp.Weights.Values[1])

	rec := post(t, router, "/optimize/relaxed-risk-parity", map[string]interface{}{
		"assets": []string{"LOW", "HIGH"}, "returns": pairRows, "version": "D",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHierarchical(t *testing.T) {
	router := newTestRouter(t, nil)

	resp := decodeResponse(t, post(t, router, "/optimize/hierarchical", map[string]interface{}{
		"assets":  []string{"LOW", "HIGH"},
		"returns": pairRows,
		"model":   "HERC",
		"k":       2,
	}))
	assert.Equal(t, "HERC", resp.Model)
	assert.InDelta(t, 0.8, resp.Weights.Values[0], 1e-6)
	assert.Len(t, resp.Clusters, 2)

	series := testutil.NewClusteredFixture(t, 3, 3, 200, 5)
	router = newTestRouter(t, fakeSource{"clustered": series})
	resp = decodeResponse(t, post(t, router, "/optimize/hierarchical", map[string]interface{}{
		"dataset":      "clustered",
		"model":        "NCO",
		"codependence": "spearman",
		"linkage":      "ward",
		"k":            3,
	}))
	assert.Len(t, resp.Clusters, 3)
	sum := 0.0
	for _, v := range resp.Weights.Values {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)

	rec := post(t, router, "/optimize/hierarchical", map[string]interface{}{
		"dataset": "clustered", "linkage": "nearest",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBlackLitterman_NoViews(t *testing.T) {
	series := testutil.NewReturnFixture(t, 4, 120, 9)
	router := newTestRouter(t, fakeSource{"four": series})

	resp := decodeResponse(t, post(t, router, "/optimize/black-litterman", map[string]interface{}{
		"dataset":     "four",
		"benchmark":   []float64{0.1, 0.2, 0.3, 0.4},
		"delta":       2.5,
		"equilibrium": true,
	}))
	for i, want := range []float64{0.1, 0.2, 0.3, 0.4} {
		assert.InDelta(t, want, resp.Weights.Values[i], 1e-6)
	}
	assert.Len(t, resp.Posterior, 4)

	rec := post(t, router, "/optimize/black-litterman", map[string]interface{}{
		"dataset": "four",
		"p":       [][]float64{{1, 0, 0, 0}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDiversification(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		path string
		want []float64
	}{
		{"/optimize/max-diversification", []float64{2.0 / 3, 1.0 / 3}},
		{"/optimize/max-decorrelation", []float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := decodeResponse(t, post(t, router, tt.path, map[string]interface{}{
				"assets":  []string{"LOW", "HIGH"},
				"returns": pairRows,
			}))
			for i, want := range tt.want {
				assert.InDelta(t, want, resp.Weights.Values[i], 1e-3)
			}
		})
	}
}

func TestHandleNaive(t *testing.T) {
	router := newTestRouter(t, nil)

	resp := decodeResponse(t, post(t, router, "/optimize/equal-weight", map[string]interface{}{
		"assets":     []string{"A", "B", "C", "D"},
		"categories": map[string]string{"A": "Equity", "B": "Equity"},
	}))
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, resp.Weights.Values)
	assert.Nil(t, resp.Performance)
	require.Len(t, resp.Categories, 2)
	assert.InDelta(t, 0.5, resp.Categories[0].Weight, 1e-12)

	resp = decodeResponse(t, post(t, router, "/optimize/property-weighted", map[string]interface{}{
		"assets":  []string{"LOW", "HIGH"},
		"returns": pairRows,
		"values":  []float64{3, 1},
	}))
	assert.InDelta(t, 0.75, resp.Weights.Values[0], 1e-12)
	assert.NotNil(t, resp.Performance)

	rec := post(t, router, "/optimize/property-weighted", map[string]interface{}{
		"assets": []string{"A", "B"},
		"values": []float64{1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFrontier(t *testing.T) {
	series := testutil.NewReturnFixture(t, 4, 250, 61)
	router := newTestRouter(t, fakeSource{"four": series})

	rec := post(t, router, "/optimize/frontier", map[string]interface{}{
		"dataset":  "four",
		"points":   5,
		"tangency": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FrontierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	f := resp.Frontier
	require.GreaterOrEqual(t, len(f.Points), 2)
	assert.LessOrEqual(t, len(f.Points), 5)
	assert.Len(t, f.Random, 10)
	assert.Len(t, f.Assets, 4)
	assert.NotNil(t, f.Tangency)

	rec = post(t, router, "/optimize/frontier", map[string]interface{}{"dataset": "four", "points": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
