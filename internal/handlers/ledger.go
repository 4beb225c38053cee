package handlers

import (
	"net/http"

	"mysterypack/internal/storage"
)

// HandleBalance handles GET /api/balance
func (s *Server) HandleBalance(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	bal, err := s.Ledger.GetBalance(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

// HandleTransactions handles GET /api/transactions?type=&limit=&offset=
func (s *Server) HandleTransactions(w http.ResponseWriter, r *http.Request) {
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

	page, err := s.Ledger.ListTransactions(r.Context(), uid, storage.TxType(r.URL.Query().Get("type")), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}
