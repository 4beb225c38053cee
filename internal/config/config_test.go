package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_PATH", "RESELL_PERCENT", "RECONCILE_INTERVAL", "ADMIN_USER_IDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "/app/data/packs.db", cfg.DatabasePath)
	assert.Equal(t, int64(70), cfg.ResellPercent)
	assert.Equal(t, 64, cfg.MaxClientSeedLength)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 2.0, cfg.OpenRatePerSecond)
	assert.Empty(t, cfg.AdminUserIDs)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RESELL_PERCENT", "55")
	t.Setenv("RECONCILE_INTERVAL", "0")
	t.Setenv("ADMIN_USER_IDS", " 42, ops-team ,,7 ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(55), cfg.ResellPercent)
	assert.Equal(t, time.Duration(0), cfg.ReconcileInterval)
	assert.Equal(t, []string{"42", "ops-team", "7"}, cfg.AdminUserIDs)
	assert.Equal(t, []int64{42, 7}, cfg.AdminTelegramIDs())
	assert.True(t, cfg.IsAdmin("ops-team"))
	assert.False(t, cfg.IsAdmin("8"))
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RESELL_PERCENT", "seventy"},
		{"RESELL_PERCENT", "150"},
		{"RETRY_BACKOFF", "50"},
		{"RETRY_ATTEMPTS", "0"},
		{"OPEN_RATE_PER_SECOND", "fast"},
		{"MAX_CLIENT_SEED_LENGTH", "-1"},
		{"RECONCILE_INTERVAL", "-1m"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "warn")
	os.Unsetenv("PORT")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over the file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
