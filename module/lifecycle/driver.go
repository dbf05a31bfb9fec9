package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/chaincache"
	"github.com/onflow/quorumnet/module/mocktime"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/quorum"
	"github.com/onflow/quorumnet/module/topology"
)

const (
	// TmpDirPrefix prefixes the run directories created in the system temp dir.
	TmpDirPrefix = "quorumnet_"
	// LogFile is the name of the full debug log inside a run directory.
	LogFile = "test_framework.log"
)

// Config is the immutable configuration of a run.
type Config struct {
	RunID string
	// TmpDir is the run directory. If empty, a fresh one is created in the
	// system temp dir.
	TmpDir   string
	CacheDir string
	// Network is the template of the run's network, its Root is the run directory.
	Network        testnet.NetworkConfig
	Process        process.Config
	Topology       topology.Config
	Quorum         quorum.Config
	Cache          chaincache.BuildParams
	CacheLockRetry time.Duration
	// MockTimeStep is the default mock time bump in seconds.
	MockTimeStep int64
	// NoCleanup keeps the run directory.
	NoCleanup bool
	// NoShutdown leaves the nodes running and keeps the run directory.
	NoShutdown bool
	// Perf keeps the run directory for the profiling data of the nodes.
	Perf bool
}

// CreateTmpDir creates the run directory. An explicitly given directory must
// not exist yet.
func CreateTmpDir(dir, runID string) (string, error) {
	if dir == "" {
		return os.MkdirTemp("", TmpDirPrefix+runID+"_")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create run directory: %w", err)
	}
	return dir, nil
}

// State is the stage a Driver is in.
type State int32

const (
	StateCreated State = iota
	StateSetup
	StateRunning
	StateFinished
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Driver runs a single scenario: it sets up the network the scenario asks
// for, runs it, classifies the result and shuts the network down.
type Driver struct {
	log      zerolog.Logger
	cfg      Config
	launcher module.Launcher
	clients  module.ClientFactory
	metrics  module.HarnessMetrics

	state  *atomic.Int32
	tmpDir string
	env    *Env
}

func NewDriver(log zerolog.Logger, cfg Config, launcher module.Launcher, clients module.ClientFactory, metrics module.HarnessMetrics) *Driver {
	return &Driver{
		log:      log.With().Str("component", "lifecycle").Logger(),
		cfg:      cfg,
		launcher: launcher,
		clients:  clients,
		metrics:  metrics,
		state:    atomic.NewInt32(int32(StateCreated)),
	}
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	d.log.Debug().Str("state", s.String()).Msg("lifecycle state changed")
}

// Env returns the environment of the current run, nil before setup.
func (d *Driver) Env() *Env {
	return d.env
}

// Run executes the scenario and returns its verdict. A Driver runs one
// scenario only.
func (d *Driver) Run(ctx context.Context, scenario Scenario) Result {
	start := time.Now()
	if d.State() != StateCreated {
		return Result{Outcome: Failed, Err: fmt.Errorf("driver already ran a scenario")}
	}

	params := DefaultParams()
	scenario.Configure(&params)

	d.setState(StateSetup)
	err := d.setup(ctx, params)
	if err == nil {
		d.setState(StateRunning)
		err = d.runScenario(ctx, scenario)
	}
	d.setState(StateFinished)

	result := Result{Outcome: Classify(err), Err: err}
	d.logOutcome(result)

	d.shutdown(&result)
	result.Duration = time.Since(start)
	d.metrics.TestFinished(result.Outcome.String(), result.Duration)
	return result
}

func (d *Driver) runScenario(ctx context.Context, scenario Scenario) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scenario panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return scenario.Run(ctx, d.env)
}

func (d *Driver) logOutcome(result Result) {
	err := result.Err
	switch {
	case err == nil:
	case IsExplicitSkip(err):
		d.log.Warn().Msg(err.Error())
	case IsAssertionViolation(err):
		d.log.Error().Err(err).Msg("assertion failed")
	case process.IsProcessStartTimeoutError(err), process.IsNodeExitedError(err):
		d.log.Error().Err(err).Msg("node process failed")
	case topology.IsSyncTimeoutError(err):
		d.log.Error().Err(err).Msg("nodes did not sync")
	case quorum.IsPhaseTimeoutError(err):
		d.log.Error().Err(err).Msg("quorum formation stalled")
	default:
		d.log.Error().Err(err).Msg("unexpected error caught during testing")
	}
}

func (d *Driver) setup(ctx context.Context, params Params) error {
	if err := params.validate(); err != nil {
		return err
	}

	tmpDir := d.cfg.TmpDir
	if tmpDir == "" {
		var err error
		if tmpDir, err = CreateTmpDir("", d.cfg.RunID); err != nil {
			return err
		}
	} else if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return err
	}
	d.tmpDir = tmpDir

	netCfg := d.cfg.Network
	netCfg.Root = tmpDir
	net := testnet.NewNetwork(netCfg)
	supervisor := process.NewSupervisor(d.log, d.cfg.Process, d.launcher, d.clients, d.metrics)
	clock := mocktime.NewCoordinator(d.log, net, d.metrics, mocktime.WithWorkers(d.cfg.Process.MaxParallel))
	topo := topology.NewManager(d.log, d.cfg.Topology, d.metrics)

	quorumCfg := d.cfg.Quorum
	quorumCfg.FastDIP3 = params.FastDIP3
	quorumCfg.LLMQSize = params.LLMQSize
	quorumCfg.LLMQThreshold = params.LLMQThreshold
	if quorumCfg.StopGrace == 0 {
		quorumCfg.StopGrace = d.cfg.Process.StopGrace
	}

	d.env = &Env{
		Log:          d.log.With().Str("component", "scenario").Logger(),
		Params:       params,
		TmpDir:       tmpDir,
		Supervisor:   supervisor,
		Network:      net,
		Clock:        clock,
		Topology:     topo,
		Quorum:       quorum.NewOrchestrator(d.log, quorumCfg, supervisor, net, clock, topo, d.metrics),
		mockTimeStep: d.cfg.MockTimeStep,
		stopGrace:    d.cfg.Process.StopGrace,
	}
	if d.env.mockTimeStep == 0 {
		d.env.mockTimeStep = 1
	}

	d.log.Info().Str("dir", tmpDir).Msg("initializing test directory")
	if params.SetupCleanChain {
		if err := chaincache.InitializeClean(net, params.NumNodes); err != nil {
			return err
		}
	} else {
		cache := chaincache.New(d.log, chaincache.Config{
			Dir:       d.cfg.CacheDir,
			Network:   d.cfg.Network,
			StopGrace: d.cfg.Process.StopGrace,
			LockRetry: d.cfg.CacheLockRetry,
		}, supervisor, d.metrics)
		if _, err := cache.BuildOnce(ctx, d.cfg.Cache); err != nil {
			return fmt.Errorf("could not build chain cache: %w", err)
		}
		if err := cache.Clone(ctx, net, params.NumNodes); err != nil {
			return fmt.Errorf("could not clone chain cache: %w", err)
		}
	}

	if params.Masternodes > 0 {
		d.env.nodeArgs = quorumCfg.NodeArgs()
		return d.env.Quorum.SetupNetwork(ctx, quorum.SetupParams{
			Nodes:       params.NumNodes,
			Masternodes: params.Masternodes,
		})
	}
	return d.setupNodes(ctx, params)
}

// setupNodes starts all nodes and connects them as a chain, each node
// connecting to its predecessor so node 0 is the source of blocks.
func (d *Driver) setupNodes(ctx context.Context, params Params) error {
	env := d.env
	specs := make([]process.NodeSpec, params.NumNodes)
	for i := range specs {
		specs[i] = env.Network.Spec(i, env.NodeArgs(i)...)
	}
	handles, err := env.Supervisor.StartMany(ctx, specs, d.cfg.Process.MaxParallel)
	if err != nil {
		return err
	}
	for _, h := range handles {
		env.Network.Add(h)
	}

	if !params.SetupCleanChain {
		if err := d.leaveInitialBlockDownload(ctx, handles); err != nil {
			return err
		}
	}

	if err := env.Topology.ConnectChain(ctx, handles); err != nil {
		return err
	}
	return env.Topology.AwaitAllSynced(ctx, handles, 0)
}

// leaveInitialBlockDownload checks that every node runs the cached chain and
// hands all of them one fresh block, whose recent timestamp takes the nodes
// out of initial block download.
func (d *Driver) leaveInitialBlockDownload(ctx context.Context, handles []*process.NodeHandle) error {
	height := d.cfg.Cache.TargetHeight
	for _, h := range handles {
		info, err := h.Client.GetBlockchainInfo(ctx)
		if err != nil {
			return err
		}
		if err := AssertEqual(h.Name()+" height", info.Blocks, height); err != nil {
			return err
		}
	}

	d.log.Debug().Msg("generating a block with current time")
	hashes, err := handles[0].Client.Generate(ctx, 1)
	if err != nil {
		return err
	}
	block, err := handles[0].Client.GetBlockHex(ctx, hashes[0])
	if err != nil {
		return err
	}
	for _, h := range handles {
		reason, err := h.Client.SubmitBlock(ctx, block)
		if err != nil {
			return err
		}
		if reason != "" {
			d.log.Debug().Str("node", h.Name()).Str("reason", reason).Msg("block not accepted")
		}
		info, err := h.Client.GetBlockchainInfo(ctx)
		if err != nil {
			return err
		}
		if err := AssertEqual(h.Name()+" height", info.Blocks, height+1); err != nil {
			return err
		}
		if err := Assert(!info.InitialBlockDownload, "%s is still in initial block download", h.Name()); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops the nodes unless asked to leave them running and removes
// the run directory unless it is needed for inspection.
func (d *Driver) shutdown(result *Result) {
	ctx := context.Background()
	env := d.env

	if env != nil {
		if !d.cfg.NoShutdown {
			d.log.Info().Msg("stopping nodes")
			if err := env.Supervisor.StopAll(ctx, d.cfg.Process.StopGrace); err != nil {
				d.log.Error().Err(err).Msg("could not stop all nodes")
				result.Err = multierror.Append(result.Err, err)
				result.Outcome = Failed
			}
		} else {
			for _, h := range env.Supervisor.Handles() {
				h.SetKeepRunning(true)
			}
			d.log.Info().Msg("nodes were not stopped and may still be running")
		}
	}

	cleanup := !d.cfg.NoCleanup && !d.cfg.NoShutdown && result.Outcome != Failed && !d.cfg.Perf
	switch {
	case d.tmpDir == "":
	case cleanup:
		d.log.Info().Str("dir", d.tmpDir).Msg("cleaning up on exit")
		if err := os.RemoveAll(d.tmpDir); err != nil {
			d.log.Warn().Err(err).Msg("could not remove run directory")
			result.TmpDir = d.tmpDir
		}
	case d.cfg.Perf:
		d.log.Warn().Str("dir", d.tmpDir).Msg("not cleaning up due to perf data")
		result.TmpDir = d.tmpDir
	default:
		d.log.Warn().Str("dir", d.tmpDir).Msg("not cleaning up")
		result.TmpDir = d.tmpDir
	}

	switch result.Outcome {
	case Passed:
		d.log.Info().Msg("tests successful")
	case Skipped:
		d.log.Info().Msg("test skipped")
	default:
		d.log.Error().Msgf("test failed, test logging available at %s", filepath.Join(d.tmpDir, LogFile))
	}
	d.setState(StateShutdown)
}
