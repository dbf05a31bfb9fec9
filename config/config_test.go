package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	defaults, err := DefaultConfig()
	require.NoError(t, err)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitializeFlags(flags, defaults)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "regtest", cfg.Chain)
	assert.Equal(t, 1.0, cfg.TimeoutFactor)
	assert.Equal(t, 20, cfg.Parallel)
	assert.Equal(t, os.Getpid(), cfg.PortSeed)
	assert.True(t, filepath.IsAbs(cfg.CacheDir))
	assert.Equal(t, 30*time.Second, cfg.Timeouts.DKGPhase)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeouts.DKGPhasePoll)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	flags := newFlags(t, "--timeout-factor=2", "--nocleanup", "--parallel=4", "--portseed=7", "-l", "debug")
	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.TimeoutFactor)
	assert.True(t, cfg.NoCleanup)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, 7, cfg.PortSeed)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("QUORUMNET_MOCKTIME_STEP", "5")
	t.Setenv("QUORUMNET_TIMEOUTS_DKG_PHASE", "45s")

	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.MockTimeStep)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.DKGPhase)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorumnet.yml")
	require.NoError(t, os.WriteFile(path, []byte("daemon: /opt/node/bin/syscoind\ntimeouts:\n  sync: 5s\n"), 0644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "/opt/node/bin/syscoind", cfg.Daemon)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Sync)
	// untouched keys keep their defaults
	assert.Equal(t, 60*time.Second, cfg.Timeouts.NodeStart)
}

func TestZeroTimeoutFactorDisablesTimeouts(t *testing.T) {
	cfg, err := Load(newFlags(t, "--timeout-factor=0"))
	require.NoError(t, err)
	assert.Equal(t, float64(DisabledTimeoutFactor), cfg.TimeoutFactor)
	assert.Equal(t, 30*time.Second*DisabledTimeoutFactor, cfg.Scale(30*time.Second))
}

func TestInvalidValues(t *testing.T) {
	for _, args := range [][]string{
		{"--timeout-factor=-1"},
		{"--parallel=0"},
		{"--loglevel=loud"},
	} {
		_, err := Load(newFlags(t, args...))
		assert.True(t, IsInvalidConfigError(err), "%v: %v", args, err)
	}
}

func TestLifecycleScalesTimeouts(t *testing.T) {
	cfg, err := Load(newFlags(t, "--timeout-factor=2", "--parallel=8", "--mocktime-step=3"))
	require.NoError(t, err)

	lc := cfg.Lifecycle("run")
	assert.Equal(t, "run", lc.RunID)
	assert.Equal(t, 120*time.Second, lc.Process.StartTimeout)
	assert.Equal(t, 250*time.Millisecond, lc.Process.PollInterval)
	assert.Equal(t, 8, lc.Process.MaxParallel)
	assert.Equal(t, 60*time.Second, lc.Quorum.PhaseTimeout)
	assert.Equal(t, 100*time.Millisecond, lc.Quorum.PhasePoll)
	assert.Equal(t, 120*time.Second, lc.Topology.SyncTimeout)
	assert.Equal(t, int64(3), lc.MockTimeStep)
	assert.Equal(t, uint64(199), lc.Cache.TargetHeight)
	assert.Equal(t, cfg.PortSeed, lc.Network.PortSeed)
}

func TestZeroPollIntervalRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorumnet.yml")
	require.NoError(t, os.WriteFile(path, []byte("timeouts:\n  sync-poll: 0s\n"), 0644))

	require.NotPanics(t, func() {
		_, err := Load(newFlags(t, "--config", path))
		require.True(t, IsInvalidConfigError(err), "%v", err)

		var invalid InvalidConfigError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "timeouts.sync-poll", invalid.Key)
	})
}
