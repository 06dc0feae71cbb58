package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLogAlertFiredFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogAlertFired(logger, "a-1", "BTC", "USD", ">=", 50000, 50001)

	m := decodeLine(t, &buf)
	require.Equal(t, "alert_fired", m["event"])
	require.Equal(t, "a-1", m["alert_id"])
	require.Equal(t, 50001.0, m["price"])
}

func TestLogFetchFailureCarriesKind(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	logger := WithComponent(zerolog.New(&buf), "engine")

	LogFetchFailure(logger, "ETH", "USD", "rate_limited", []string{"a-1", "a-2"}, errors.New("429"))

	m := decodeLine(t, &buf)
	require.Equal(t, "rate_limited", m["kind"])
	require.Equal(t, "engine", m["component"])
	require.Equal(t, 2.0, m["alerts"])
	require.Equal(t, []interface{}{"a-1", "a-2"}, m["alert_ids"])
}


func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	require.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}

func TestNewLoggerWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := LogConfig{Level: "info", File: true, FilePath: dir + "/logs/test.log", MaxSize: 1}
	logger := NewLoggerWithConfig(cfg)
	logger.Info().Msg("to file")
	require.FileExists(t, dir+"/logs/test.log")
}
