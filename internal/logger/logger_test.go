package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	require.Contains(t, buf.String(), "test message")
}

func TestNewWithOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithOptions(buf, Options{Level: "warn", Format: "json"})
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("job_id", "j1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "j1", entry["job_id"])

	_, err = NewWithOptions(buf, Options{Level: "loud"})
	require.Error(t, err)
	_, err = NewWithOptions(buf, Options{Format: "xml"})
	require.Error(t, err)
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")
	require.NotZero(t, buf.Len())

	require.NotEqual(t, zerolog.Disabled, FromContext(context.Background()).GetLevel())
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"owner_id": "123",
		"action":   "import",
	})
	log.Info().Msg("test message")

	out := buf.String()
	require.Contains(t, out, `"owner_id":"123"`)
	require.Contains(t, out, `"action":"import"`)
}
