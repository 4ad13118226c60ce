package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	paths := []string{
		"/optimize/mean-risk",
		"/optimize/risk-parity",
		"/optimize/relaxed-risk-parity",
		"/optimize/hierarchical",
		"/optimize/black-litterman",
		"/optimize/max-diversification",
		"/optimize/max-decorrelation",
		"/optimize/equal-weight",
		"/optimize/property-weighted",
		"/optimize/frontier",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			// A malformed body reaches the handler and is rejected there.
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			req = httptest.NewRequest(http.MethodGet, path, nil)
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}
