// Package handlers provides HTTP handlers for stored return datasets.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/httpapi"
	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ContentTypeCSV is the content type of CSV uploads and downloads.
const ContentTypeCSV = "text/csv"

// Handler manages return datasets.
type Handler struct {
	cache *returns.Cache
	log   zerolog.Logger
}

// NewHandler creates a new dataset handler
func NewHandler(cache *returns.Cache, log zerolog.Logger) *Handler {
	return &Handler{
		cache: cache,
		log:   log.With().Str("handler", "datasets").Logger(),
	}
}

// SaveRequest is the JSON body of POST /datasets.
type SaveRequest struct {
	Name string `json:"name"`
	returns.Input
}

// HandleList handles GET /datasets
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.cache.List(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	httpapi.Write(w, r, h.log, http.StatusOK, datasets)
}

// HandleSave handles POST /datasets. A text/csv body is read with ReadCSV; the name comes
// from the query string and prices=true converts prices to returns.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	name, series, err := h.readDataset(w, r)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	ds, err := h.cache.Save(r.Context(), name, series)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.log.Info().
		Str("dataset", ds.Name).
		Int("assets", len(ds.Assets)).
		Int("periods", ds.Periods).
		Msg("Dataset saved")
	httpapi.Write(w, r, h.log, http.StatusCreated, ds)
}

func (h *Handler) readDataset(w http.ResponseWriter, r *http.Request) (string, domain.ReturnSeries, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), ContentTypeCSV) {
		q := r.URL.Query()
		opts := returns.CSVOptions{}
		if p := q.Get("prices"); p != "" {
			prices, err := strconv.ParseBool(p)
			if err != nil {
				return "", domain.ReturnSeries{}, fmt.Errorf("%w: invalid prices flag %q", domain.ErrInvalidConfiguration, p)
			}
			opts.Prices = prices
		}
		body := http.MaxBytesReader(w, r.Body, httpapi.MaxBodyBytes)
		defer body.Close()
		series, err := returns.ReadCSV(body, opts)
		if err != nil {
			return "", domain.ReturnSeries{}, err
		}
		return q.Get("name"), series, nil
	}

	var req SaveRequest
	if err := httpapi.Decode(w, r, &req); err != nil {
		return "", domain.ReturnSeries{}, err
	}
	if req.Dataset != "" {
		return "", domain.ReturnSeries{}, fmt.Errorf("%w: a saved dataset needs inline returns", domain.ErrInvalidConfiguration)
	}
	series, err := req.Input.Resolve(r.Context(), nil)
	if err != nil {
		return "", domain.ReturnSeries{}, err
	}
	return req.Name, series, nil
}

// HandleGet handles GET /datasets/{name}. Asking for text/csv returns the observations.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if strings.Contains(r.Header.Get("Accept"), ContentTypeCSV) {
		series, err := h.cache.Load(r.Context(), name)
		if err != nil {
			httpapi.WriteError(w, r, h.log, err)
			return
		}
		w.Header().Set("Content-Type", ContentTypeCSV)
		w.WriteHeader(http.StatusOK)
		if err := returns.WriteCSV(w, series); err != nil {
			h.log.Error().Err(err).Str("dataset", name).Msg("Failed to write CSV")
		}
		return
	}

	ds, err := h.cache.Describe(r.Context(), name)
	if err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	httpapi.Write(w, r, h.log, http.StatusOK, ds)
}

// HandleDelete handles DELETE /datasets/{name}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.cache.Delete(r.Context(), name); err != nil {
		httpapi.WriteError(w, r, h.log, err)
		return
	}
	h.log.Info().Str("dataset", name).Msg("Dataset deleted")
	w.WriteHeader(http.StatusNoContent)
}
