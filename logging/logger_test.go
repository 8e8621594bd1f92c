package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, FormatJSON, false)

	log.Debug("hidden")
	log.Info("render succeeded", zap.String("item", "a.txt"), zap.Int("attempt", 2))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "render succeeded", entry["message"])
	assert.Equal(t, "a.txt", entry["item"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestNewWithWriter_Verbose(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, FormatConsole, true)

	log.Sugar().Debugf("processing %d items", 3)
	assert.Contains(t, buf.String(), "processing 3 items")
	assert.Contains(t, buf.String(), "debug")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error("ignored") })
}
