package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const testToken = "123456:TEST-TOKEN"

func signedInitData(t *testing.T, userJSON string, authDate time.Time) string {
	t.Helper()
	v := url.Values{}
	v.Set("auth_date", fmt.Sprint(authDate.Unix()))
	v.Set("query_id", "AAE")
	v.Set("user", userJSON)
	check := fmt.Sprintf("auth_date=%d\nquery_id=AAE\nuser=%s", authDate.Unix(), userJSON)
	v.Set("hash", Sign(testToken, check))
	return v.Encode()
}

func TestValidateInitData(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := NewAuthenticator(testToken, "")
	a.now = func() time.Time { return now }

	tests := []struct {
		name     string
		initData string
		wantID   string
		wantErr  bool
	}{
		{
			name:     "valid",
			initData: signedInitData(t, `{"id":4242,"first_name":"Ash"}`, now.Add(-time.Hour)),
			wantID:   "4242",
		},
		{
			name:     "expired",
			initData: signedInitData(t, `{"id":4242}`, now.Add(-25*time.Hour)),
			wantErr:  true,
		},
		{
			name:     "tampered user",
			initData: signedInitData(t, `{"id":4242}`, now) + "&extra=1",
			wantErr:  true,
		},
		{
			name:     "missing hash",
			initData: "auth_date=1&user=%7B%22id%22%3A1%7D",
			wantErr:  true,
		},
		{
			name:     "no user id",
			initData: signedInitData(t, `{"first_name":"Ash"}`, now),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.ValidateInitData(tt.initData)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got user %q", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("Expected user %q, got %q", tt.wantID, id)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator(testToken, "X-User-ID")
	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("X-User-ID", "gateway-user")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "gateway-user" {
		t.Errorf("Expected trusted header to authenticate, got code=%d user=%q", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set(InitDataHeader, signedInitData(t, `{"id":99}`, time.Now()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "99" {
		t.Errorf("Expected initData to authenticate, got code=%d user=%q", rec.Code, seen)
	}
}

func TestAdminOnly(t *testing.T) {
	h := AdminOnly(func(id string) bool { return id == "1" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, tt := range []struct {
		userID string
		want   int
	}{
		{"1", http.StatusOK},
		{"2", http.StatusForbidden},
		{"", http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/outcomes/x/status", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), tt.userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("user %q: expected %d, got %d", tt.userID, tt.want, rec.Code)
		}
	}
}

func TestGetUserIDFromContextMissing(t *testing.T) {
	ctx := context.Background()
	_, ok := GetUserIDFromContext(ctx)
	if ok {
		t.Error("Expected ok=false for missing user ID in context")
	}
}

func TestUserIDKey(t *testing.T) {
	// Verify the key type and value
	key := UserIDKey
	if key == "" {
		t.Error("UserIDKey should not be empty string")
	}
}
