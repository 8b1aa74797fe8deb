package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": LogLevelDebug, "": LogLevelInfo, "WARN": LogLevelWarn, "error": LogLevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf, Component: "engine"})

	l.Debug("hidden")
	With(l, "invocation_id", "inv-1").Info("engine.event.committed", "author", "writer")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine.event.committed", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "inv-1", entry["invocation_id"])
	assert.Equal(t, "writer", entry["author"])
}

func TestWith_NoOpPassthrough(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.Equal(t, l, With(l, "k", "v"))
}
