package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mysterypack/internal/logger"
	"mysterypack/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 64 << 10

// SignPayload returns the signature the processor sends for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(SignPayload(secret, body)), []byte(signature))
}

// HandlePaymentWebhook handles POST /api/webhooks/payment. Redelivered
// events are acknowledged without effect.
func (s *Server) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !validSignature(s.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		logger.Warn("webhook_bad_signature", fmt.Sprintf("remote=%s", r.RemoteAddr))
		respondWithError(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var ev service.PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		respondWithError(w, "Invalid event payload", http.StatusBadRequest)
		return
	}

	res, err := s.Payments.HandleEvent(r.Context(), ev)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
