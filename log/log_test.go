package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelAndOutput(t *testing.T) {
	buf := new(bytes.Buffer)

	SetOutput(buf)
	SetLevel(zerolog.InfoLevel)
	defer SetLevel(zerolog.DebugLevel)

	Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	Info().Str("peer", "alice").Msg("Connected.")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "alice", entry["peer"])
	assert.Equal(t, "Connected.", entry["message"])
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" WARN ")
	assert.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
