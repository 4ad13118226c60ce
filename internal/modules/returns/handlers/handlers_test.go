package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/allocator/internal/modules/returns"
	testutil "github.com/aristath/allocator/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) chi.Router {
	t.Helper()
	db := testutil.NewTestDB(t, "returns")
	cache := returns.NewCache(returns.NewStore(db.Conn(), zerolog.Nop()), zerolog.Nop())
	router := chi.NewRouter()
	NewHandler(cache, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, path, contentType string, body []byte, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDatasets_Lifecycle(t *testing.T) {
	router := setupRouter(t)

	body, err := json.Marshal(map[string]interface{}{
		"name":    "pair",
		"assets":  []string{"AAA", "BBB"},
		"returns": [][]float64{{0.01, 0.02}, {-0.01, 0.03}, {0.02, -0.01}},
		"dates":   []string{"2024-01-02", "2024-01-03", "2024-01-04"},
	})
	require.NoError(t, err)

	rec := do(router, http.MethodPost, "/datasets/", "application/json", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ds returns.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	assert.Equal(t, "pair", ds.Name)
	assert.Equal(t, 3, ds.Periods)
	assert.NotEmpty(t, ds.ID)

	rec = do(router, http.MethodGet, "/datasets/", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []returns.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, []string{"AAA", "BBB"}, list[0].Assets)

	rec = do(router, http.MethodGet, "/datasets/pair", "", nil, ContentTypeCSV)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypeCSV, rec.Header().Get("Content-Type"))
	series, err := returns.ReadCSV(rec.Body, returns.CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, series.T())
	assert.InDelta(t, 0.03, series.At(1, 1), 1e-12)

	rec = do(router, http.MethodDelete, "/datasets/pair", "", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/datasets/pair", "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(router, http.MethodDelete, "/datasets/pair", "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDatasets_CSVUpload(t *testing.T) {
	router := setupRouter(t)

	prices := "date,AAA,BBB\n2024-01-02,100,50\n2024-01-03,110,50\n2024-01-04,99,55\n"
	rec := do(router, http.MethodPost, "/datasets/?name=prices&prices=true", ContentTypeCSV, []byte(prices), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ds returns.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	assert.Equal(t, 2, ds.Periods)

	rec = do(router, http.MethodGet, "/datasets/prices", "", nil, ContentTypeCSV)
	require.Equal(t, http.StatusOK, rec.Code)
	series, err := returns.ReadCSV(rec.Body, returns.CSVOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, series.At(0, 0), 1e-12)
	assert.InDelta(t, -0.1, series.At(1, 0), 1e-12)
	assert.InDelta(t, 0.1, series.At(1, 1), 1e-12)
}

func TestDatasets_Rejections(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name        string
		path        string
		contentType string
		body        string
		status      int
	}{
		{"missing name", "/datasets/", "application/json", `{"assets":["A"],"returns":[[0.1],[0.2]]}`, http.StatusBadRequest},
		{"reference instead of data", "/datasets/", "application/json", `{"name":"x","dataset":"y"}`, http.StatusBadRequest},
		{"too few periods", "/datasets/", "application/json", `{"name":"x","assets":["A"],"returns":[[0.1]]}`, http.StatusUnprocessableEntity},
		{"bad csv cell", "/datasets/?name=x", ContentTypeCSV, "A\n0.1\nabc\n", http.StatusBadRequest},
		{"bad prices flag", "/datasets/?name=x&prices=maybe", ContentTypeCSV, "A\n1\n2\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, tt.path, tt.contentType, []byte(strings.TrimSpace(tt.body)), "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
