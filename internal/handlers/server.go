package handlers

import (
	"context"
	"net/http"
	"time"

	"mysterypack/internal/auth"
	"mysterypack/internal/metrics"
	"mysterypack/internal/service"
)

// Server exposes the services over JSON HTTP
type Server struct {
	Ledger   *service.LedgerService
	Seeds    *service.SeedService
	Packs    *service.PackService
	Verify   *service.VerificationService
	Payments *service.PaymentService

	Auth          *auth.Authenticator
	IsAdmin       func(userID string) bool
	OpenLimiter   *RateLimiter
	WebhookSecret string
	Timeout       time.Duration
}

// Routes builds the HTTP handler. Every route lives under /api except
// /metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /api/ping", PingHandler)
	mux.HandleFunc("GET /api/packs/{id}/odds", s.HandleOdds)
	mux.HandleFunc("POST /api/verify", s.HandleVerify)
	mux.HandleFunc("GET /api/transparency/stats", s.HandleStats)
	mux.HandleFunc("POST /api/webhooks/payment", s.HandlePaymentWebhook)
	mux.Handle("GET /metrics", metrics.Handler())

	// Authenticated
	user := func(h http.HandlerFunc) http.Handler {
		return s.Auth.Middleware(h)
	}
	mux.Handle("GET /api/balance", user(s.HandleBalance))
	mux.Handle("GET /api/transactions", user(s.HandleTransactions))
	mux.Handle("GET /api/seeds/active", user(s.HandleActiveSeed))
	mux.Handle("PATCH /api/seeds/active", user(s.HandleSetClientSeed))
	mux.Handle("POST /api/seeds/rotate", user(s.HandleRotate))
	mux.Handle("GET /api/seeds/revealed", user(s.HandleRevealedSeeds))
	mux.Handle("GET /api/packs", user(s.HandleListPacks))
	mux.Handle("POST /api/packs/open", s.Auth.Middleware(s.limitOpen(http.HandlerFunc(s.HandleOpen))))
	mux.Handle("GET /api/outcomes", user(s.HandleListOutcomes))
	mux.Handle("POST /api/outcomes/{id}/redeem", user(s.HandleRedeem))
	mux.Handle("POST /api/outcomes/{id}/resell", user(s.HandleResell))
	mux.Handle("GET /api/outcomes/{id}/verify", user(s.HandleVerifyOutcome))

	// Admin
	admin := func(h http.HandlerFunc) http.Handler {
		return s.Auth.Middleware(auth.AdminOnly(s.isAdmin, h))
	}
	mux.Handle("POST /api/admin/outcomes/{id}/status", admin(s.HandleAdvanceRedemption))
	mux.Handle("PUT /api/admin/packs/{id}/entries", admin(s.HandleReplaceCatalog))

	return metrics.InstrumentHandler(s.withTimeout(mux))
}

func (s *Server) isAdmin(userID string) bool {
	return s.IsAdmin != nil && s.IsAdmin(userID)
}

func (s *Server) limitOpen(next http.Handler) http.Handler {
	if s.OpenLimiter == nil {
		return next
	}
	return s.OpenLimiter.Handler(next)
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.Timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated caller. Routes are wrapped by the auth
// middleware, so a missing ID is a wiring error.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, "Unauthorized: user not in context", http.StatusUnauthorized)
	}
	return id, ok
}
