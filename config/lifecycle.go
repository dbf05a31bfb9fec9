package config

import (
	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module/chaincache"
	"github.com/onflow/quorumnet/module/lifecycle"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/quorum"
	"github.com/onflow/quorumnet/module/topology"
)

// Lifecycle returns the configuration of a run with every timeout scaled by
// the timeout factor. Poll intervals are not scaled.
func (c Config) Lifecycle(runID string) lifecycle.Config {
	t := c.Timeouts

	q := quorum.DefaultConfig()
	q.MaxParallel = c.Parallel
	q.StopGrace = c.Scale(t.NodeStopGrace)
	q.PhaseTimeout = c.Scale(t.DKGPhase)
	q.PhasePoll = t.DKGPhasePoll
	q.ConnectionTimeout = c.Scale(t.QuorumConnections)
	q.ProbeTimeout = c.Scale(t.MasternodeProbes)
	q.StatusPoll = t.StatusPoll
	q.CommitmentTimeout = c.Scale(t.Commitment)
	q.CommitmentPoll = t.CommitmentPoll
	q.MineTimeout = c.Scale(t.QuorumMining)
	q.MinePoll = t.QuorumMiningPoll
	q.SporkTimeout = c.Scale(t.Sporks)
	q.SporkPoll = t.SporksPoll
	q.MnsyncTimeout = c.Scale(t.Mnsync)

	return lifecycle.Config{
		RunID:    runID,
		TmpDir:   c.TmpDir,
		CacheDir: c.CacheDir,
		Network: testnet.NetworkConfig{
			Binary:      c.Daemon,
			Chain:       c.Chain,
			ConfFile:    c.ConfFile,
			RPCUser:     c.RPCUser,
			RPCPassword: c.RPCPassword,
			PortSeed:    c.PortSeed,
		},
		Process: process.Config{
			StartTimeout: c.Scale(t.NodeStart),
			StopGrace:    c.Scale(t.NodeStopGrace),
			PollInterval: t.NodePoll,
			MaxParallel:  c.Parallel,
		},
		Topology: topology.Config{
			ConnectTimeout: c.Scale(t.PeerConnect),
			SyncTimeout:    c.Scale(t.Sync),
			PollInterval:   t.SyncPoll,
			MaxParallel:    c.Parallel,
		},
		Quorum:         q,
		Cache:          chaincache.DefaultBuildParams(),
		CacheLockRetry: t.CacheLockRetry,
		MockTimeStep:   c.MockTimeStep,
		NoCleanup:      c.NoCleanup,
		NoShutdown:     c.NoShutdown,
		Perf:           c.Perf,
	}
}
