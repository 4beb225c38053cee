package handlers

import (
	"net/http"

	"mysterypack/internal/catalog"
	"mysterypack/internal/logger"
	"mysterypack/internal/service"
)

// OpenPackRequest is the body of POST /api/packs/open
type OpenPackRequest struct {
	PackID         string `json:"pack_id"`
	IdempotencyKey string `json:"idempotency_key"`
	ClientSeed     string `json:"client_seed,omitempty"`
}

// IdempotencyKeyHeader may carry the key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// HandleListPacks handles GET /api/packs
func (s *Server) HandleListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.Packs.ListPacks(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"packs": packs})
}

// HandleOdds handles GET /api/packs/{id}/odds
func (s *Server) HandleOdds(w http.ResponseWriter, r *http.Request) {
	odds, err := s.Packs.Odds(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, odds)
}

// HandleOpen handles POST /api/packs/open. A replayed key answers 200 with
// the original result; a fresh draw answers 201.
func (s *Server) HandleOpen(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req OpenPackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	}

	res, err := s.Packs.Open(r.Context(), service.OpenRequest{
		UserID:         uid,
		PackID:         req.PackID,
		IdempotencyKey: req.IdempotencyKey,
		ClientSeed:     req.ClientSeed,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// ReplaceCatalogRequest is the body of PUT /api/admin/packs/{id}/entries
type ReplaceCatalogRequest struct {
	Entries []catalog.Entry `json:"entries"`
}

// HandleReplaceCatalog handles PUT /api/admin/packs/{id}/entries
func (s *Server) HandleReplaceCatalog(w http.ResponseWriter, r *http.Request) {
	uid, _ := userID(w, r)
	var req ReplaceCatalogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	packID := r.PathValue("id")
	version, err := s.Packs.ReplaceCatalog(r.Context(), packID, req.Entries)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	logger.Debug(uid, "admin_replace_catalog", "pack_id="+packID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"pack_id": packID, "catalog_version": version})
}
