package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesFields(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithField("order_id", "o1").WithError(errors.New("boom")).Warn("settle failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "o1", entry["order_id"])
	require.Equal(t, "boom", entry["error"])
	require.Equal(t, "settle failed", entry["msg"])
	require.Equal(t, "warning", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	log := New(LoggingConfig{Level: "warn", Format: "json", Output: "stdout"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Debug("dropped")
	log.Info("dropped too")
	require.Zero(t, buf.Len())

	log.Error("kept")
	require.NotZero(t, buf.Len())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "nonsense", Format: "text", Output: "stdout"})
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Debug("dropped")
	require.Zero(t, buf.Len())
	log.Infof("kept %d", 1)
	require.Contains(t, buf.String(), "kept 1")
}

func TestNewDefaultTagsComponent(t *testing.T) {
	log := NewDefault("orders")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.Info("hello")
	require.Contains(t, buf.String(), "orders")
}
