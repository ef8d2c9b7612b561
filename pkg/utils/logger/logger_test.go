package logger

import (
	"mockhttp/pkg/models"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mockhttp.log")
	l, err := NewLogger(&models.LogConfig{
		ToFile:   true,
		FilePath: path,
		Prefix:   "[Test]",
	})
	require.NoError(t, err)

	l.Info("hello")
	l.Debug("hidden")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"message":"hello"`)
	assert.Contains(t, out, `"logger":"[Test]"`)
	assert.NotContains(t, out, "hidden")
}

func TestNewLogger_DebugEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	l, err := NewLogger(&models.LogConfig{
		ToFile:       true,
		FilePath:     path,
		DebugEnabled: true,
	})
	require.NoError(t, err)

	l.Debug("visible")
	l.Warn("careful")
	l.Error("broken")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"level":"debug"`)
	assert.Contains(t, lines[1], `"level":"warn"`)
	assert.Contains(t, lines[2], `"level":"error"`)
}

func TestNewLogger_NoWriters(t *testing.T) {
	l, err := NewLogger(&models.LogConfig{})
	require.NoError(t, err)
	l.Info("discarded")
	assert.NoError(t, l.Close())
}
