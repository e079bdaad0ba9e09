package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsJSONShape(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("solboxd", "test", Options{Output: &buf, Level: slog.LevelDebug})
	logger.Debug("hello", "component", "host")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "solboxd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWithOptionsFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "solbox.log")
	logger := SetupWithOptions("solboxd", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("rotated")
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "purchase", MaskField("method", "purchase").Value.String())
	require.Equal(t, " ", MaskField("secret", " ").Value.String())
	require.Equal(t, "eyJh..."+RedactedValue, MaskToken("eyJhbGciOiJIUzI1NiJ9"))
	require.Equal(t, RedactedValue, MaskToken("short"))
	require.True(t, IsAllowlisted(" Sponsor "))
}

func TestHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("solboxd", "", Options{Output: &buf})
	logger.Info("loaded", "hmac_secret", "deadbeef", "token", MaskToken("eyJhbGciOiJIUzI1NiJ9"), "buyer", "sbx1abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["hmac_secret"])
	require.Equal(t, "eyJh..."+RedactedValue, line["token"])
	require.Equal(t, "sbx1abc", line["buyer"])
}
