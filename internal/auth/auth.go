package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"mysterypack/internal/logger"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "user_id"
)

// InitDataHeader carries the Telegram WebApp initData string.
const InitDataHeader = "X-Telegram-Init-Data"

// DefaultMaxAge is how old an initData auth_date may be.
const DefaultMaxAge = 24 * time.Hour

// Authenticator resolves the calling user of a request. It accepts Telegram
// WebApp initData signed with the bot token and, when configured, a user ID
// set by a trusted gateway in TrustedHeader.
type Authenticator struct {
	BotToken      string
	TrustedHeader string
	MaxAge        time.Duration

	now func() time.Time
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(botToken, trustedHeader string) *Authenticator {
	return &Authenticator{
		BotToken:      botToken,
		TrustedHeader: trustedHeader,
		MaxAge:        DefaultMaxAge,
		now:           time.Now,
	}
}

// ValidateInitData validates the Telegram initData string
// It checks the HMAC-SHA256 signature and the auth_date
func (a *Authenticator) ValidateInitData(initData string) (string, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return "", fmt.Errorf("malformed initData: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return "", fmt.Errorf("hash not found in initData")
	}
	if a.BotToken == "" {
		return "", fmt.Errorf("bot token not configured")
	}

	// Data check string: every field except hash, sorted by key
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	if !hmac.Equal([]byte(hash), []byte(Sign(a.BotToken, strings.Join(lines, "\n")))) {
		return "", fmt.Errorf("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid auth_date format")
	}
	if a.now().Sub(time.Unix(authDate, 0)) > a.MaxAge {
		return "", fmt.Errorf("auth_date is too old")
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return "", fmt.Errorf("user not found in initData")
	}
	return strconv.FormatInt(user.ID, 10), nil
}

// Sign computes the initData hash of a data check string.
func Sign(botToken, dataCheckString string) string {
	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(dataCheckString))
	return hex.EncodeToString(h.Sum(nil))
}

// Authenticate returns the user ID of r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if a.TrustedHeader != "" {
		if id := strings.TrimSpace(r.Header.Get(a.TrustedHeader)); id != "" {
			return id, nil
		}
	}
	initData := r.Header.Get(InitDataHeader)
	if initData == "" {
		return "", fmt.Errorf("missing %s header", InitDataHeader)
	}
	return a.ValidateInitData(initData)
}

// Middleware rejects requests without a valid identity and stores the user
// ID in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r)
		if err != nil {
			logger.Debug("", "auth_failed", fmt.Sprintf("path=%s error=%v", r.URL.Path, err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
	})
}

// AdminOnly allows only users for which isAdmin returns true. It must run
// after Middleware.
func AdminOnly(isAdmin func(userID string) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		if !ok || !isAdmin(userID) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ContextWithUserID adds the user ID to the context
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
