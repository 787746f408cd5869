package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("TINT"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatAuto, ParseFormat("whatever"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewHandlerJSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, FormatAuto, slog.LevelInfo))
	log.Debug("hidden")
	log.Warn("capture helper exited", "helper", "x")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "capture helper exited", rec["msg"])
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, FormatText, slog.LevelInfo)).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"msg"`)
}
