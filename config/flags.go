package config

import (
	"github.com/spf13/pflag"
)

// Flag names, also the keys of the corresponding config values.
const (
	flagConfig        = "config"
	flagTimeoutFactor = "timeout-factor"
	flagNoCleanup     = "nocleanup"
	flagNoShutdown    = "noshutdown"
	flagParallel      = "parallel"
	flagMockTimeStep  = "mocktime-step"
	flagCacheDir      = "cachedir"
	flagTmpDir        = "tmpdir"
	flagLogLevel      = "loglevel"
	flagPortSeed      = "portseed"
	flagPerf          = "perf"
	flagDaemon        = "daemon"
	flagMetricsPort   = "metrics-port"
)

// InitializeFlags registers the command line flags on flags, using the values
// of cfg as defaults.
func InitializeFlags(flags *pflag.FlagSet, cfg *Config) {
	flags.String(flagConfig, "", "config file overriding the default configuration")
	flags.Float64(flagTimeoutFactor, cfg.TimeoutFactor, "adjust timeouts by a factor, 0 disables all timeouts")
	flags.Bool(flagNoCleanup, cfg.NoCleanup, "leave nodes and the test directory on exit or error")
	flags.Bool(flagNoShutdown, cfg.NoShutdown, "don't stop the nodes after the test execution")
	flags.Int(flagParallel, cfg.Parallel, "maximum number of nodes started or connected concurrently")
	flags.Int64(flagMockTimeStep, cfg.MockTimeStep, "default mock time bump in seconds")
	flags.String(flagCacheDir, cfg.CacheDir, "directory for the cached pre-mined chain")
	flags.String(flagTmpDir, cfg.TmpDir, "root directory for data directories, must not exist")
	flags.StringP(flagLogLevel, "l", cfg.LogLevel, "console log level, all levels are always written to the log file")
	flags.Int(flagPortSeed, cfg.PortSeed, "seed for assigning port numbers, 0 uses the process id")
	flags.Bool(flagPerf, cfg.Perf, "keep the test directory for profiling data of the nodes")
	flags.String(flagDaemon, cfg.Daemon, "path of the node binary")
	flags.Uint(flagMetricsPort, cfg.MetricsPort, "port of the metrics server, 0 disables it")
}
