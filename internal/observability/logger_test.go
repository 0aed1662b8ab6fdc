package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: slog.LevelInfo, Output: &buf, JSONFormat: true})

	logger.Info("cache hit", "similarity", 0.91)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"msg":"cache hit"`)
	assert.Contains(t, out, `"similarity":0.91`)
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: slog.LevelWarn, Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	assert.Empty(t, buf.String())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 64))
	assert.Equal(t, "", Truncate("", 64))

	long := strings.Repeat("x", 100)
	got := Truncate(long, 64)
	assert.Len(t, got, 67)
	assert.True(t, strings.HasSuffix(got, "..."))

	// Non-positive limits disable truncation.
	assert.Equal(t, long, Truncate(long, 0))
}
