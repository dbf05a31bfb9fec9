package unittest

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerDiscardsByDefault(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	log := LoggerFor("topology")
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}

func TestLoggerLevelFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnv, "warn")
	assert.Equal(t, zerolog.WarnLevel, Logger().GetLevel())

	t.Setenv(LogLevelEnv, "chatty")
	assert.Equal(t, zerolog.DebugLevel, Logger().GetLevel())
}

func TestLogRecorder(t *testing.T) {
	rec := NewLogRecorder()
	log := rec.Logger("chain_cache")

	log.Trace().Msg("lock acquired")
	log.Warn().Int("attempt", 2).Msg("lock busy")
	_, err := rec.Write([]byte("not json\n"))
	require.NoError(t, err)

	entries := rec.Entries()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, "chain_cache", entry["component"])
	}
	assert.Equal(t, float64(2), entries[1]["attempt"])

	assert.Equal(t, []string{"lock busy"}, rec.Messages(zerolog.WarnLevel))
	assert.Empty(t, rec.Messages(zerolog.ErrorLevel))
}
