package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var console, out bytes.Buffer
	log, err := newWithWriters("warn", FormatJSON, &console, &out)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("pool", "p1").Msg("shown")

	assert.Empty(t, console.String())
	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "p1", line["pool"])
	assert.Equal(t, "shown", line["message"])
	assert.Contains(t, line, "time")
}

func TestNew_Console(t *testing.T) {
	var console, out bytes.Buffer
	log, err := newWithWriters("DEBUG", "", &console, &out)
	require.NoError(t, err)

	log.Debug().Msg("tick")

	assert.Empty(t, out.String())
	assert.Contains(t, console.String(), "tick")
}

func TestNew_EmptyLevelDefaultsToInfo(t *testing.T) {
	var out bytes.Buffer
	log, err := newWithWriters("", FormatJSON, &out, &out)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	assert.Empty(t, out.String())
	log.Info().Msg("shown")
	assert.Contains(t, out.String(), "shown")
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("loud", FormatJSON)
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
