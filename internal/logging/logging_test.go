package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lowaak/cycle-computer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewWithSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithSink(config.LogConfig{Level: "info", Format: "json"}, "cycle-computer", zapcore.AddSync(&buf))

	logger.Debug("hidden")
	logger.Info("Recorder: started", zap.Uint64("session", 1583801576))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "Recorder: started", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "cycle-computer", entry["service_name"])
	assert.Equal(t, 1583801576.0, entry["session"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewWithSink_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithSink(config.LogConfig{Level: "debug", Format: "console"}, "", zapcore.AddSync(&buf))

	logger.Debug("Exporter: encoding", zap.Int("records", 3))
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), "Exporter: encoding")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.NotContains(t, buf.String(), "service_name")
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycle.log")
	logger := New(config.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}, "")

	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
