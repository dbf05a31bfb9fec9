// Package config loads the configuration of a harness run: the embedded
// defaults, overridden by an optional config file, QUORUMNET_ environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding config keys, e.g.
// QUORUMNET_TIMEOUT_FACTOR overrides timeout-factor.
const EnvPrefix = "QUORUMNET"

// DisabledTimeoutFactor replaces a timeout factor of 0, which disables timeouts.
const DisabledTimeoutFactor = 99999

// timeoutsKey is the config section holding Timeouts.
const timeoutsKey = "timeouts"

//go:embed default-config.yml
var defaultConfig []byte

// Config is the immutable configuration of a harness run.
type Config struct {
	Daemon        string        `mapstructure:"daemon"`
	Chain         string        `mapstructure:"chain"`
	ConfFile      string        `mapstructure:"conf-file"`
	RPCUser       string        `mapstructure:"rpc-user"`
	RPCPassword   string        `mapstructure:"rpc-password"`
	RPCTimeout    time.Duration `mapstructure:"rpc-timeout"`
	CacheDir      string        `mapstructure:"cachedir"`
	TmpDir        string        `mapstructure:"tmpdir"`
	LogLevel      string        `mapstructure:"loglevel"`
	PortSeed      int           `mapstructure:"portseed"`
	TimeoutFactor float64       `mapstructure:"timeout-factor"`
	NoCleanup     bool          `mapstructure:"nocleanup"`
	NoShutdown    bool          `mapstructure:"noshutdown"`
	Perf          bool          `mapstructure:"perf"`
	Parallel      int           `mapstructure:"parallel"`
	MockTimeStep  int64         `mapstructure:"mocktime-step"`
	MetricsPort   uint          `mapstructure:"metrics-port"`
	Timeouts      Timeouts      `mapstructure:"timeouts"`
}

// Timeouts are the unscaled timeouts and poll intervals of all waits.
type Timeouts struct {
	NodeStart         time.Duration `mapstructure:"node-start"`
	NodeStopGrace     time.Duration `mapstructure:"node-stop-grace"`
	NodePoll          time.Duration `mapstructure:"node-poll"`
	PeerConnect       time.Duration `mapstructure:"peer-connect"`
	Sync              time.Duration `mapstructure:"sync"`
	SyncPoll          time.Duration `mapstructure:"sync-poll"`
	CacheLockRetry    time.Duration `mapstructure:"cache-lock-retry"`
	DKGPhase          time.Duration `mapstructure:"dkg-phase"`
	DKGPhasePoll      time.Duration `mapstructure:"dkg-phase-poll"`
	QuorumConnections time.Duration `mapstructure:"quorum-connections"`
	MasternodeProbes  time.Duration `mapstructure:"masternode-probes"`
	StatusPoll        time.Duration `mapstructure:"status-poll"`
	Commitment        time.Duration `mapstructure:"commitment"`
	CommitmentPoll    time.Duration `mapstructure:"commitment-poll"`
	QuorumMining      time.Duration `mapstructure:"quorum-mining"`
	QuorumMiningPoll  time.Duration `mapstructure:"quorum-mining-poll"`
	Sporks            time.Duration `mapstructure:"sporks"`
	SporksPoll        time.Duration `mapstructure:"sporks-poll"`
	Mnsync            time.Duration `mapstructure:"mnsync"`
}

// DefaultConfig returns the embedded default configuration.
func DefaultConfig() (*Config, error) {
	return Load(nil)
}

// Load reads the configuration. flags may be nil. If the config flag names a
// file, its values override the defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultConfig)); err != nil {
		return nil, fmt.Errorf("could not read default config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("could not bind flags: %w", err)
		}
		if path := v.GetString(flagConfig); path != "" {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("could not read config file %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve fills in values derived from the environment and validates the rest.
func (c *Config) resolve() error {
	if c.TimeoutFactor < 0 {
		return NewInvalidConfigError(flagTimeoutFactor, "must not be negative, got %v", c.TimeoutFactor)
	}
	if c.TimeoutFactor == 0 {
		c.TimeoutFactor = DisabledTimeoutFactor
	}
	if err := c.Timeouts.validate(); err != nil {
		return err
	}
	if c.Parallel <= 0 {
		return NewInvalidConfigError(flagParallel, "must be positive, got %d", c.Parallel)
	}
	if c.MockTimeStep <= 0 {
		return NewInvalidConfigError(flagMockTimeStep, "must be positive, got %d", c.MockTimeStep)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return NewInvalidConfigError(flagLogLevel, "%w", err)
	}
	if c.PortSeed == 0 {
		c.PortSeed = os.Getpid()
	}
	if c.CacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return NewInvalidConfigError(flagCacheDir, "no default available: %w", err)
		}
		c.CacheDir = filepath.Join(dir, "quorumnet")
	}
	abs, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return NewInvalidConfigError(flagCacheDir, "%w", err)
	}
	c.CacheDir = abs
	return nil
}

// validate rejects non-positive durations, every wait needs a deadline and
// every poll loop an interval.
func (t Timeouts) validate() error {
	for key, d := range map[string]time.Duration{
		"node-start":         t.NodeStart,
		"node-stop-grace":    t.NodeStopGrace,
		"node-poll":          t.NodePoll,
		"peer-connect":       t.PeerConnect,
		"sync":               t.Sync,
		"sync-poll":          t.SyncPoll,
		"cache-lock-retry":   t.CacheLockRetry,
		"dkg-phase":          t.DKGPhase,
		"dkg-phase-poll":     t.DKGPhasePoll,
		"quorum-connections": t.QuorumConnections,
		"masternode-probes":  t.MasternodeProbes,
		"status-poll":        t.StatusPoll,
		"commitment":         t.Commitment,
		"commitment-poll":    t.CommitmentPoll,
		"quorum-mining":      t.QuorumMining,
		"quorum-mining-poll": t.QuorumMiningPoll,
		"sporks":             t.Sporks,
		"sporks-poll":        t.SporksPoll,
		"mnsync":             t.Mnsync,
	} {
		if d <= 0 {
			return NewInvalidConfigError(timeoutsKey+"."+key, "must be positive, got %s", d)
		}
	}
	return nil
}

// Scale applies the timeout factor to d.
func (c Config) Scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * c.TimeoutFactor)
}

// Level returns the console log level.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
