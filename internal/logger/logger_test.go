package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestGetForComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "info")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	l := GetForComponent("vault_engine")
	l.Info().Str("epoch", "3").Msg("Epoch settled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "vault_engine", line["component"])
	assert.Equal(t, "Epoch settled", line["message"])
}

func TestInitializeAppendsToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.log")
	require.NoError(t, Initialize("info", path))
	t.Cleanup(func() { InitializeWithWriter(io.Discard, "info") })

	l := GetForComponent("keeper")
	l.Info().Msg("Keeper cycle complete")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"keeper"`)

	require.Error(t, Initialize("info", filepath.Join(t.TempDir(), "missing", "vaultd.log")))
}
