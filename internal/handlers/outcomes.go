package handlers

import (
	"net/http"

	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// AdvanceRequest is the body of POST /api/admin/outcomes/{id}/status
type AdvanceRequest struct {
	Status storage.RedemptionStatus `json:"status"`
}

// HandleListOutcomes handles GET /api/outcomes?status=&limit=&offset=
func (s *Server) HandleListOutcomes(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondWithError(w, "Invalid offset", http.StatusBadRequest)
		return
	}
	status := storage.RedemptionStatus(r.URL.Query().Get("status"))

	outcomes, err := s.Packs.ListOutcomes(r.Context(), uid, status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"outcomes": outcomes})
}

// HandleRedeem handles POST /api/outcomes/{id}/redeem
func (s *Server) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	o, err := s.Packs.Redeem(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// HandleResell handles POST /api/outcomes/{id}/resell
func (s *Server) HandleResell(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	res, err := s.Packs.Resell(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// HandleVerifyOutcome handles GET /api/outcomes/{id}/verify
func (s *Server) HandleVerifyOutcome(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	v, err := s.Verify.VerifyOutcome(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// HandleAdvanceRedemption handles POST /api/admin/outcomes/{id}/status
func (s *Server) HandleAdvanceRedemption(w http.ResponseWriter, r *http.Request) {
	uid, _ := userID(w, r)
	var req AdvanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	o, err := s.Packs.AdvanceRedemption(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	logger.Debug(uid, "admin_advance_redemption", "outcome_id="+o.ID+" status="+string(o.Status))
	respondJSON(w, http.StatusOK, o)
}
