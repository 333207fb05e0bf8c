package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := WithComponent("pipeline")
	logger.Info().Str("event_name", "FAIL").Msg("published")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry["component"])
	assert.Equal(t, "FAIL", entry["event_name"])
	assert.Equal(t, "published", entry["message"])
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l := WithEventSpace("FTB.DEMO")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"event_space":"FTB.DEMO"`)

	buf.Reset()
	l = WithSubscriptionID("s-1")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"subscription_id":"s-1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(DebugLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(WarnLevel))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel(ErrorLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}
