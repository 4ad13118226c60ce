// Package httpapi holds the request vocabulary and the response codec shared by the
// HTTP handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aristath/allocator/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes = 32 << 20
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	ID     string `json:"id,omitempty"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func wantsMsgpack(h string) bool {
	return strings.Contains(h, ContentTypeMsgpack) || strings.Contains(h, "application/x-msgpack")
}

// Decode reads the request body into v. Bodies sent as msgpack use the json field names.
func Decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer body.Close()

	if wantsMsgpack(r.Header.Get("Content-Type")) {
		dec := msgpack.NewDecoder(body)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("%w: invalid msgpack body: %v", domain.ErrInvalidConfiguration, err)
		}
		return nil
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// Write encodes v as msgpack when the client accepts it and as JSON otherwise.
func Write(w http.ResponseWriter, r *http.Request, log zerolog.Logger, status int, v interface{}) {
	if wantsMsgpack(r.Header.Get("Accept")) {
		w.Header().Set("Content-Type", ContentTypeMsgpack)
		w.WriteHeader(status)
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(v); err != nil {
			log.Error().Err(err).Msg("Failed to encode msgpack response")
		}
		return
	}

	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// StatusFor maps an error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrNonConvergence):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteError answers with the status StatusFor picks for err.
func WriteError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	Write(w, r, log, status, ErrorResponse{Error: err.Error()})
}

// WriteInfeasible answers 422 with the reason the optimization produced no weights.
func WriteInfeasible(w http.ResponseWriter, r *http.Request, log zerolog.Logger, id string, inf domain.Infeasibility) {
	log.Info().Str("id", id).Str("reason", inf.Reason.String()).Msg(inf.Detail)
	Write(w, r, log, http.StatusUnprocessableEntity, ErrorResponse{
		ID:     id,
		Error:  inf.Detail,
		Reason: inf.Reason.String(),
	})
}
