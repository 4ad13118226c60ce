package server

import (
	"net/http"

	"github.com/aristath/allocator/internal/httpapi"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "allocator",
	}

	httpapi.Write(w, r, s.log, http.StatusOK, response)
}
