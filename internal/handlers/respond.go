package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mysterypack/internal/logger"
	"mysterypack/internal/service"
)

// retryAfterSeconds is sent with 503 responses for transient failures.
const retryAfterSeconds = 1

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Required  int64  `json:"required,omitempty"`
	Available int64  `json:"available,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondServiceError maps a service error to its HTTP status.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *service.ValidationError
		funds      *service.InsufficientFundsError
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: validation.Field})
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidClientSeed):
		respondWithError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &funds):
		respondJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:     "insufficient funds",
			Required:  funds.Required,
			Available: funds.Available,
			Shortfall: funds.Shortfall(),
		})
	case errors.Is(err, service.ErrForbidden):
		respondWithError(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, service.ErrPackNotFound), errors.Is(err, service.ErrOutcomeNotFound),
		errors.Is(err, service.ErrPackageNotFound), errors.Is(err, service.ErrNoActiveSeed):
		respondWithError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidTransition):
		respondWithError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrSeedNotRevealed):
		respondWithError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrEmptyCatalog):
		respondWithError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrTransient):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		respondWithError(w, "temporarily unavailable, retry with the same idempotency key", http.StatusServiceUnavailable)
	default:
		logger.Error("request_failed", err, "path="+r.URL.Path)
		respondWithError(w, "internal error", http.StatusInternalServerError)
	}
}

// decodeJSON reads a JSON request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
