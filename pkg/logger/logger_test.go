package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := WithActor(WithTxID(New("production", &buf), "s-1"), "u-7")
	log.Info().Msg("session committed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "jec-go-versioning", entry["service"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "u-7", entry["actor"])
	assert.Equal(t, "session committed", entry["message"])
}

func TestNewDevelopmentIsConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New("dev", &buf)
	log.Warn().Str("entity", "orders").Msg("write conflict")

	out := buf.String()
	assert.Contains(t, out, "write conflict")
	assert.Contains(t, out, "entity=orders")
	assert.False(t, json.Valid(buf.Bytes()))
}
