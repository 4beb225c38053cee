package handlers

import (
	"net/http"

	"mysterypack/internal/service"
)

// HandleVerify handles POST /api/verify. Only seeds that were committed and
// later revealed can be checked.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.Verify.Verify(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// HandleStats handles GET /api/transparency/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Packs.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	respondJSON(w, http.StatusOK, stats)
}
