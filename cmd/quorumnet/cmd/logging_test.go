package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onflow/quorumnet/module/lifecycle"
)

func TestLevelWriter(t *testing.T) {
	var console bytes.Buffer
	log := zerolog.New(levelWriter{Writer: &console, level: zerolog.InfoLevel})

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestLogFileGetsAllLevels(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := newLogger(dir, zerolog.ErrorLevel)
	require.NoError(t, err)

	log.Trace().Msg("rpc call")
	log.Debug().Msg("node started")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(filepath.Join(dir, lifecycle.LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"message":"rpc call"`)
	assert.Contains(t, string(content), `"message":"node started"`)
}

func TestListScenarios(t *testing.T) {
	var out bytes.Buffer
	listCmd.SetOut(&out)
	listCmd.Run(listCmd, nil)
	assert.Contains(t, out.String(), "llmq_dkg\n")
}
