package scenarios

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module/chaincache"
	"github.com/onflow/quorumnet/module/lifecycle"
	"github.com/onflow/quorumnet/module/metrics"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/quorum"
	"github.com/onflow/quorumnet/module/topology"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
)

type ScenarioSuite struct {
	suite.Suite
	fake *fakenet.Network
	cfg  lifecycle.Config
}

func TestScenarios(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) SetupTest() {
	s.fake = fakenet.NewNetwork(fakenet.DefaultConfig())

	quorumCfg := quorum.DefaultConfig()
	quorumCfg.StopGrace = time.Second
	quorumCfg.PhasePoll = 5 * time.Millisecond
	quorumCfg.CommitmentPoll = 5 * time.Millisecond
	quorumCfg.MinePoll = 5 * time.Millisecond
	quorumCfg.SporkPoll = 5 * time.Millisecond
	quorumCfg.StatusPoll = 5 * time.Millisecond

	s.cfg = lifecycle.Config{
		RunID:    "scenario",
		TmpDir:   filepath.Join(s.T().TempDir(), "run"),
		CacheDir: filepath.Join(s.T().TempDir(), "cache"),
		Network: testnet.NetworkConfig{
			Binary:      "syscoind",
			Chain:       fakenet.ChainName,
			ConfFile:    "syscoin.conf",
			RPCUser:     "quorumnet",
			RPCPassword: "quorumnet",
			PortSeed:    2,
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
		MockTimeStep:   1,
	}
}

func (s *ScenarioSuite) run(name string) lifecycle.Result {
	scenario, err := Lookup(name)
	s.Require().NoError(err)

	driver := lifecycle.NewDriver(unittest.Logger(), s.cfg, s.fake.Launcher(), s.fake.ClientFactory(), metrics.NewNoopCollector())
	var result lifecycle.Result
	unittest.RequireReturnsBefore(s.T(), func() {
		result = driver.Run(context.Background(), scenario)
	}, 30*time.Second, "scenario did not finish")
	return result
}

func (s *ScenarioSuite) TestChainSplit() {
	result := s.run("chain_split")
	s.Require().NoError(result.Err)
	s.Assert().Equal(lifecycle.Passed, result.Outcome)
}

func (s *ScenarioSuite) TestNodeRestart() {
	result := s.run("node_restart")
	s.Require().NoError(result.Err)
	s.Assert().Equal(lifecycle.Passed, result.Outcome)
}

func (s *ScenarioSuite) TestQuorumFormation() {
	result := s.run("llmq_dkg")
	s.Require().NoError(result.Err)
	s.Assert().Equal(lifecycle.Passed, result.Outcome)
	s.Assert().Empty(result.TmpDir)
}

func (s *ScenarioSuite) TestMasternodeRemoval() {
	result := s.run("masternode_removal")
	s.Require().NoError(result.Err)
	s.Assert().Equal(lifecycle.Passed, result.Outcome)
}

// TestQuorumTimeoutFails checks that a masternode that never joins the DKG
// session fails the run with the phase it got stuck in.
func (s *ScenarioSuite) TestQuorumTimeoutFails() {
	s.cfg.Quorum.PhaseTimeout = 200 * time.Millisecond
	s.fake.SetStatusHook(func(name string, status *dkg.Status) {
		if name == "node3" {
			status.Sessions = map[string]dkg.SessionStatus{}
		}
	})

	result := s.run("llmq_dkg")
	s.Assert().Equal(lifecycle.Failed, result.Outcome)
	s.Assert().True(quorum.IsPhaseTimeoutError(result.Err), result.Err)
	s.Assert().Equal(s.cfg.TmpDir, result.TmpDir)
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"chain_split", "llmq_dkg", "masternode_removal", "node_restart"}, Names())

	_, err := Lookup("feature_unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_split")

	a, err := Lookup("llmq_dkg")
	require.NoError(t, err)
	b, err := Lookup("llmq_dkg")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
