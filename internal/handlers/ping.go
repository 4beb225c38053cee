package handlers

import (
	"net/http"

	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// PingResponse is the response for the ping endpoint
type PingResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// PingHandler handles GET /api/ping. It answers 503 when the database is
// unreachable.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	db := storage.DB()
	if db == nil {
		respondJSON(w, http.StatusServiceUnavailable, PingResponse{Status: "degraded", Database: "not initialized"})
		return
	}
	if err := db.PingContext(r.Context()); err != nil {
		logger.Warn("ping_db_failed", err.Error())
		respondJSON(w, http.StatusServiceUnavailable, PingResponse{Status: "degraded", Database: "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, PingResponse{Status: "ok", Database: "ok"})
}
