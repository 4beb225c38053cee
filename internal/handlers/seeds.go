package handlers

import (
	"errors"
	"io"
	"net/http"
)

// ClientSeedRequest is the body of PATCH /api/seeds/active and POST /api/seeds/rotate
type ClientSeedRequest struct {
	ClientSeed string `json:"client_seed"`
}

// HandleActiveSeed handles GET /api/seeds/active. The server seed is never
// included.
func (s *Server) HandleActiveSeed(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	view, err := s.Seeds.GetOrCreateActive(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// HandleSetClientSeed handles PATCH /api/seeds/active
func (s *Server) HandleSetClientSeed(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req ClientSeedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := s.Seeds.SetClientSeed(r.Context(), uid, req.ClientSeed)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// HandleRotate handles POST /api/seeds/rotate. The body is optional.
func (s *Server) HandleRotate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req ClientSeedRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.Seeds.Rotate(r.Context(), uid, req.ClientSeed)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// HandleRevealedSeeds handles GET /api/seeds/revealed
func (s *Server) HandleRevealedSeeds(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	seeds, err := s.Seeds.ListRevealed(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"seeds": seeds})
}
