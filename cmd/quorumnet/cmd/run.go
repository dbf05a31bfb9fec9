package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/onflow/quorumnet/client"
	"github.com/onflow/quorumnet/config"
	"github.com/onflow/quorumnet/integration/scenarios"
	"github.com/onflow/quorumnet/module/lifecycle"
	"github.com/onflow/quorumnet/module/metrics"
	"github.com/onflow/quorumnet/module/process"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Run a scenario and exit with its verdict",
	Long: fmt.Sprintf("Run a scenario and exit with its verdict: %d if it passed, %d if it failed, %d if it was skipped.",
		lifecycle.ExitPassed, lifecycle.ExitFailed, lifecycle.ExitSkipped),
	Args: cobra.ExactArgs(1),
	Run:  run,
}

func init() {
	defaults, err := config.DefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	config.InitializeFlags(runCmd.Flags(), defaults)
}

func run(cmd *cobra.Command, args []string) {
	os.Exit(execute(cmd, args[0]))
}

func execute(cmd *cobra.Command, name string) int {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return lifecycle.ExitFailed
	}
	scenario, err := scenarios.Lookup(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return lifecycle.ExitFailed
	}

	runID := uuid.New().String()
	dir, err := lifecycle.CreateTmpDir(cfg.TmpDir, runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return lifecycle.ExitFailed
	}
	log, logFile, err := newLogger(dir, cfg.Level())
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open log file: %v\n", err)
		return lifecycle.ExitFailed
	}
	defer logFile.Close()
	log = log.With().Str("run", runID).Str("scenario", name).Logger()

	cfg.TmpDir = dir
	lcfg := cfg.Lifecycle(runID)
	log.Info().
		Str("tmpdir", dir).
		Str("cachedir", cfg.CacheDir).
		Int("portseed", cfg.PortSeed).
		Float64("timeout_factor", cfg.TimeoutFactor).
		Msg("initializing run")

	registry := prometheus.NewRegistry()
	collector := metrics.NewHarnessCollector(registry)
	if cfg.MetricsPort > 0 {
		server := metrics.NewServer(log, cfg.MetricsPort, registry)
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("could not start metrics server")
			return lifecycle.ExitFailed
		}
		defer server.Shutdown(5 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	driver := lifecycle.NewDriver(log, lcfg, process.NewExecLauncher(log), client.NewFactory(log, cfg.RPCTimeout), collector)
	result := driver.Run(ctx, scenario)

	event := log.Info()
	if result.Outcome == lifecycle.Failed {
		event = log.WithLevel(zerolog.ErrorLevel).Err(result.Err)
	}
	event.Str("outcome", result.Outcome.String()).Dur("duration", result.Duration).Msg("run finished")
	if result.TmpDir != "" {
		fmt.Fprintf(os.Stderr, "test data kept in %s\n", result.TmpDir)
	}
	return result.Outcome.ExitCode()
}
