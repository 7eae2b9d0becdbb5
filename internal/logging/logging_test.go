package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/model"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "outreach.log")
	log, cleanup, err := New(model.LoggingConfig{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	WithRun(log, "send").Info("sent", zap.String("email", "a@x.com"))
	log.Debug("pausing")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sent", entry["msg"])
	assert.Equal(t, "a@x.com", entry["email"])
	assert.Equal(t, "send", entry["command"])
	assert.NotEmpty(t, entry["run_id"])
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outreach.log")
	log, cleanup, err := New(model.LoggingConfig{Level: "warn", File: path})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNew_InvalidSettings(t *testing.T) {
	_, _, err := New(model.LoggingConfig{Level: "loud"})
	assert.True(t, model.IsConfigError(err))

	_, _, err = New(model.LoggingConfig{Format: "xml"})
	assert.True(t, model.IsConfigError(err))
}
