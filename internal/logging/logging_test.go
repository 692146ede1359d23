package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Output: &buf})

	logger.Info("run completed", "run_id", "r-1", "steps", 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run completed", rec["msg"])
	assert.Equal(t, "r-1", rec["run_id"])
	assert.EqualValues(t, 4, rec["steps"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
