package api

import (
	"net/http"
	"strings"
)

// handleTokenRouter routes /api/v1/tokens/{id} and /api/v1/tokens/{id}/lineage.
func (s *Server) handleTokenRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tokens/")
	path = strings.TrimSuffix(path, "/")

	switch {
	case path == "":
		WriteNotFound(w, "Missing token id")
	case strings.HasSuffix(path, "/lineage"):
		s.handleTokenLineage(w, r, strings.TrimSuffix(path, "/lineage"))
	case strings.Contains(path, "/"):
		WriteNotFound(w, "Unknown tokens endpoint")
	default:
		s.handleGetToken(w, r, path)
	}
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request, tokenID string) {
	token, err := s.tokens.Get(r.Context(), tokenID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// handleTokenLineage returns the provenance chain as an export bundle: tokens
// in topological order, the requested token last, sealed with a bundle hash.
func (s *Server) handleTokenLineage(w http.ResponseWriter, r *http.Request, tokenID string) {
	bundle, err := s.tokens.ExportLineage(r.Context(), tokenID)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
