package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                               "/",
		"/api/ping":                      "/api/ping",
		"/api/packs/open":                "/api/packs/open",
		"/api/packs/bronze/odds":         "/api/packs/:id/odds",
		"/api/outcomes/abc-123/resell":   "/api/outcomes/:id/resell",
		"/api/admin/outcomes/abc/status": "/api/admin/outcomes/:id/status",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/packs/:id/odds", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/packs/gold/odds", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/packs/:id/odds", "418"))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, after)
}

func TestRecordPackOpen(t *testing.T) {
	before := testutil.ToFloat64(packOpens.WithLabelValues("bronze", "ok"))
	RecordPackOpen("bronze", "ok", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(packOpens.WithLabelValues("bronze", "ok")))

	RecordPackOpen("", "insufficient_funds", 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(packOpens.WithLabelValues("unknown", "insufficient_funds")))
}
