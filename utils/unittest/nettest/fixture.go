// Package nettest wires a simulated network, a process supervisor and a node
// registry together for component tests.
package nettest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module/metrics"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
)

// Fixture is a simulated test network.
type Fixture struct {
	Fake       *fakenet.Network
	Supervisor *process.Supervisor
	Network    *testnet.Network
	Metrics    *metrics.NoopCollector
}

// New creates a fixture rooted in a temporary directory. All nodes still
// running at the end of the test are stopped.
func New(t testing.TB, cfg fakenet.Config) *Fixture {
	fake := fakenet.NewNetwork(cfg)
	collector := metrics.NewNoopCollector()
	supervisor := process.NewSupervisor(unittest.Logger(), process.Config{
		StartTimeout: 5 * time.Second,
		StopGrace:    time.Second,
		PollInterval: 5 * time.Millisecond,
		MaxParallel:  process.DefaultMaxParallel,
	}, fake.Launcher(), fake.ClientFactory(), collector)

	f := &Fixture{
		Fake:       fake,
		Supervisor: supervisor,
		Network: testnet.NewNetwork(testnet.NetworkConfig{
			Root:        t.TempDir(),
			Binary:      "syscoind",
			Chain:       fakenet.ChainName,
			ConfFile:    "syscoin.conf",
			RPCUser:     "quorumnet",
			RPCPassword: "quorumnet",
			PortSeed:    1,
		}),
		Metrics: collector,
	}
	t.Cleanup(func() {
		_ = supervisor.StopAll(context.Background(), time.Second)
	})
	return f
}

// StartNode initializes the data directory of node i, starts it and registers it.
func (f *Fixture) StartNode(t testing.TB, i int, extraArgs ...string) *process.NodeHandle {
	_, err := f.Network.InitializeDatadir(i)
	require.NoError(t, err)
	h, err := f.Supervisor.Start(context.Background(), f.Network.Spec(i, extraArgs...))
	require.NoError(t, err)
	f.Network.Add(h)
	return h
}

// StartNodes starts nodes 0 to n-1.
func (f *Fixture) StartNodes(t testing.TB, n int) []*process.NodeHandle {
	handles := make([]*process.NodeHandle, n)
	for i := 0; i < n; i++ {
		handles[i] = f.StartNode(t, i)
	}
	return handles
}

// Port returns the rpc port of a node, the key the simulated network uses.
func Port(h *process.NodeHandle) int {
	return h.RPC().Port
}
