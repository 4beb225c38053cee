package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, Setup("debug", "json"))
	t.Cleanup(func() {
		Setup("info", "text")
	})

	Debug("u1", "pack_open", "pack=bronze counter=3")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "pack_open", entry["action"])
	assert.Equal(t, "pack=bronze counter=3", entry["details"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, Setup("info", "text"))

	Debug("u1", "hidden", "")
	assert.Empty(t, buf.String())

	Error("open_failed", errors.New("boom"), "pack=gold")
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "open_failed")
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	assert.Error(t, Setup("loud", "text"))
	assert.Error(t, Setup("info", "xml"))
}
