package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/chaincache"
	"github.com/onflow/quorumnet/module/metrics"
	mockmodule "github.com/onflow/quorumnet/module/mock"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/quorum"
	"github.com/onflow/quorumnet/module/topology"
	"github.com/onflow/quorumnet/utils/io"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
)

// scenarioFunc is a Scenario assembled from two functions.
type scenarioFunc struct {
	configure func(*Params)
	run       func(ctx context.Context, env *Env) error
}

func (s scenarioFunc) Configure(params *Params) {
	if s.configure != nil {
		s.configure(params)
	}
}

func (s scenarioFunc) Run(ctx context.Context, env *Env) error {
	return s.run(ctx, env)
}

// driverMetrics records verdicts on a mock and discards everything else.
type driverMetrics struct {
	module.ProcessMetrics
	module.PollMetrics
	module.QuorumMetrics
	module.CacheMetrics
	*mockmodule.OutcomeMetrics
}

type DriverSuite struct {
	suite.Suite
	ctx      context.Context
	fake     *fakenet.Network
	cfg      Config
	outcomes *mockmodule.OutcomeMetrics
	driver   *Driver
}

func TestDriver(t *testing.T) {
	suite.Run(t, new(DriverSuite))
}

func (s *DriverSuite) SetupTest() {
	s.ctx = context.Background()
	s.fake = fakenet.NewNetwork(fakenet.DefaultConfig())
	s.outcomes = mockmodule.NewOutcomeMetrics(s.T())

	quorumCfg := quorum.DefaultConfig()
	quorumCfg.StopGrace = time.Second
	quorumCfg.PhasePoll = 5 * time.Millisecond
	quorumCfg.CommitmentPoll = 5 * time.Millisecond
	quorumCfg.MinePoll = 5 * time.Millisecond
	quorumCfg.SporkPoll = 5 * time.Millisecond
	quorumCfg.StatusPoll = 5 * time.Millisecond

	s.cfg = Config{
		RunID:    "test",
		TmpDir:   filepath.Join(s.T().TempDir(), "run"),
		CacheDir: filepath.Join(s.T().TempDir(), "cache"),
		Network: testnet.NetworkConfig{
			Binary:      "syscoind",
			Chain:       fakenet.ChainName,
			ConfFile:    "syscoin.conf",
			RPCUser:     "quorumnet",
			RPCPassword: "quorumnet",
			PortSeed:    1,
		},
		Process: process.Config{
			StartTimeout: 5 * time.Second,
			StopGrace:    time.Second,
			PollInterval: 5 * time.Millisecond,
			MaxParallel:  process.DefaultMaxParallel,
		},
		Topology: topology.Config{
			ConnectTimeout: 2 * time.Second,
			SyncTimeout:    2 * time.Second,
			PollInterval:   5 * time.Millisecond,
			MaxParallel:    4,
		},
		Quorum:         quorumCfg,
		Cache:          chaincache.DefaultBuildParams(),
		CacheLockRetry: 10 * time.Millisecond,
	}
}

func (s *DriverSuite) run(scenario Scenario) Result {
	noop := metrics.NewNoopCollector()
	s.driver = NewDriver(unittest.Logger(), s.cfg, s.fake.Launcher(), s.fake.ClientFactory(), driverMetrics{
		ProcessMetrics: noop,
		PollMetrics:    noop,
		QuorumMetrics:  noop,
		CacheMetrics:   noop,
		OutcomeMetrics: s.outcomes,
	})
	s.Require().Equal(StateCreated, s.driver.State())
	result := s.driver.Run(s.ctx, scenario)
	s.Assert().Equal(StateShutdown, s.driver.State())
	return result
}

func (s *DriverSuite) expectOutcome(outcome Outcome) {
	s.outcomes.On("TestFinished", outcome.String(), mock.AnythingOfType("time.Duration")).Once()
}

// TestPassedOnCachedChain checks the standard setup: every node runs the
// cached chain plus one fresh block and the run directory is removed.
func (s *DriverSuite) TestPassedOnCachedChain() {
	s.expectOutcome(Passed)

	var ran bool
	result := s.run(scenarioFunc{run: func(ctx context.Context, env *Env) error {
		ran = true
		s.Require().Len(env.Nodes(), 4)
		for _, h := range env.Nodes() {
			info, err := h.Client.GetBlockchainInfo(ctx)
			s.Require().NoError(err)
			s.Assert().Equal(uint64(200), info.Blocks)
			s.Assert().False(info.InitialBlockDownload)

			peers, err := h.Client.GetPeerInfo(ctx)
			s.Require().NoError(err)
			s.Assert().NotEmpty(peers, h.Name())
		}
		return nil
	}})

	s.Require().True(ran)
	s.Require().NoError(result.Err)
	s.Assert().Equal(Passed, result.Outcome)
	s.Assert().Empty(result.TmpDir)
	s.Assert().False(io.FileExists(s.cfg.TmpDir))
	s.Assert().Empty(s.driver.Env().Supervisor.Handles())
}

// TestSplitAndJoin checks that the default partition separates nodes 0 and 1
// from nodes 2 and 3 until the network is joined again.
func (s *DriverSuite) TestSplitAndJoin() {
	s.expectOutcome(Passed)

	result := s.run(scenarioFunc{run: func(ctx context.Context, env *Env) error {
		if err := env.SplitNetwork(ctx); err != nil {
			return err
		}
		if _, err := env.Node(0).Client.Generate(ctx, 3); err != nil {
			return err
		}
		if err := env.SyncAll(ctx, env.Node(0), env.Node(1)); err != nil {
			return err
		}
		height, err := env.Node(3).Client.GetBlockCount(ctx)
		if err != nil {
			return err
		}
		if err := AssertEqual("height of the other half", height, uint64(200)); err != nil {
			return err
		}
		if err := env.JoinNetwork(ctx); err != nil {
			return err
		}
		height, err = env.Node(3).Client.GetBlockCount(ctx)
		if err != nil {
			return err
		}
		return AssertEqual("height after join", height, uint64(203))
	}})
	s.Require().NoError(result.Err)
}

// TestSkipped checks that an explicit skip is not a failure.
func (s *DriverSuite) TestSkipped() {
	s.expectOutcome(Skipped)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 1
			p.SetupCleanChain = true
		},
		run: func(ctx context.Context, env *Env) error {
			return Skip("wallet not compiled")
		},
	})

	s.Assert().Equal(Skipped, result.Outcome)
	s.Assert().Equal(ExitSkipped, result.Outcome.ExitCode())
	s.Assert().False(io.FileExists(s.cfg.TmpDir))
}

// TestFailedKeepsTmpDir checks that a failed run leaves its directory for
// inspection.
func (s *DriverSuite) TestFailedKeepsTmpDir() {
	s.expectOutcome(Failed)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 2
			p.SetupCleanChain = true
		},
		run: func(ctx context.Context, env *Env) error {
			height, err := env.Node(1).Client.GetBlockCount(ctx)
			if err != nil {
				return err
			}
			return AssertEqual("height", height, uint64(1))
		},
	})

	s.Assert().Equal(Failed, result.Outcome)
	s.Assert().True(IsAssertionViolation(result.Err))
	s.Assert().Equal(s.cfg.TmpDir, result.TmpDir)
	s.Assert().True(io.IsDir(s.cfg.TmpDir))
}

// TestPanicFails checks that a panicking scenario is recovered and fails.
func (s *DriverSuite) TestPanicFails() {
	s.expectOutcome(Failed)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 1
			p.SetupCleanChain = true
		},
		run: func(ctx context.Context, env *Env) error {
			env.Node(5)
			return nil
		},
	})

	s.Assert().Equal(Failed, result.Outcome)
	s.Assert().Contains(result.Err.Error(), "scenario panicked")
	s.Assert().Empty(s.driver.Env().Supervisor.Handles())
}

// TestInvalidParamsFail checks that setup rejects an impossible network.
func (s *DriverSuite) TestInvalidParamsFail() {
	s.expectOutcome(Failed)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 2
			p.Masternodes = 2
		},
		run: func(ctx context.Context, env *Env) error {
			s.Fail("scenario must not run")
			return nil
		},
	})
	s.Assert().Equal(Failed, result.Outcome)
	s.Assert().Contains(result.Err.Error(), "masternodes need at least 3 nodes")
}

// TestNoShutdown checks that nodes are left running and the directory kept.
func (s *DriverSuite) TestNoShutdown() {
	s.expectOutcome(Passed)
	s.cfg.NoShutdown = true

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 2
			p.SetupCleanChain = true
		},
		run: func(ctx context.Context, env *Env) error { return nil },
	})

	s.Assert().Equal(Passed, result.Outcome)
	s.Assert().Equal(s.cfg.TmpDir, result.TmpDir)
	handles := s.driver.Env().Supervisor.Handles()
	s.Require().Len(handles, 2)
	for _, h := range handles {
		s.Assert().True(s.fake.Running(h.RPC().Port))
		h.SetKeepRunning(false)
	}
	s.Require().NoError(s.driver.Env().Supervisor.StopAll(s.ctx, time.Second))
}

// TestMasternodeNetwork checks that a masternode scenario gets a network
// ready to mine quorums.
func (s *DriverSuite) TestMasternodeNetwork() {
	s.expectOutcome(Passed)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 4
			p.Masternodes = 3
			p.FastDIP3 = true
		},
		run: func(ctx context.Context, env *Env) error {
			if err := Assert(len(env.Quorum.Masternodes()) == 3, "masternodes not registered"); err != nil {
				return err
			}
			q, err := env.Quorum.MineQuorum(ctx, env.Quorum.DefaultExpectations())
			if err != nil {
				return err
			}
			return AssertEqual("quorum size", len(q.Members), 3)
		},
	})
	s.Require().NoError(result.Err)
}

// TestRestartNode checks that a restarted node keeps its slot and chain.
func (s *DriverSuite) TestRestartNode() {
	s.expectOutcome(Passed)

	result := s.run(scenarioFunc{
		configure: func(p *Params) {
			p.NumNodes = 2
			p.SetupCleanChain = true
		},
		run: func(ctx context.Context, env *Env) error {
			if _, err := env.Node(0).Client.Generate(ctx, 5); err != nil {
				return err
			}
			if err := env.SyncAll(ctx); err != nil {
				return err
			}
			h, err := env.RestartNode(ctx, 1)
			if err != nil {
				return err
			}
			if err := Assert(env.Node(1) == h, "slot not updated"); err != nil {
				return err
			}
			height, err := h.Client.GetBlockCount(ctx)
			if err != nil {
				return err
			}
			return AssertEqual("height after restart", height, uint64(5))
		},
	})
	s.Require().NoError(result.Err)
}

func TestCreateTmpDir(t *testing.T) {
	root := t.TempDir()
	dir, err := CreateTmpDir(filepath.Join(root, "run"), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := CreateTmpDir(dir, "abc"); err == nil {
		t.Fatal("expected an existing directory to be rejected")
	}

	dir, err = CreateTmpDir("", "abc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	if !io.IsDir(dir) || !filepath.IsAbs(dir) {
		t.Fatalf("unexpected run directory %q", dir)
	}
}
