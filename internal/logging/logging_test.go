package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	logger, err := SetupWriter(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("ip", "10.0.0.5").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "10.0.0.5", line["ip"])
	assert.Equal(t, "warn", line["level"])
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	_, err := SetupWriter(&bytes.Buffer{}, "loud", "json")
	require.Error(t, err)

	_, err = SetupWriter(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)

	_, err = SetupWriter(&bytes.Buffer{}, "", "")
	require.NoError(t, err)
}
