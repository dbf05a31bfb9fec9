package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module/mocktime"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/quorum"
	"github.com/onflow/quorumnet/module/topology"
)

// Scenario is a test script run against a prepared network.
type Scenario interface {
	// Configure adjusts the network the scenario needs before setup.
	Configure(params *Params)
	// Run exercises the network. A nil error passes the test, Skip skips it
	// and any other error fails it.
	Run(ctx context.Context, env *Env) error
}

// Params describe the network a scenario runs on.
type Params struct {
	NumNodes int
	// SetupCleanChain starts the nodes on an empty chain instead of a clone
	// of the cached 199 block chain.
	SetupCleanChain bool
	// ExtraArgs are appended to the arguments of the node with the same index.
	ExtraArgs [][]string
	// Masternodes, if positive, turns the network into a masternode network:
	// node 0 funds and registers that many masternodes, which run in the last
	// slots. It implies a clean chain.
	Masternodes   int
	FastDIP3      bool
	LLMQSize      int
	LLMQThreshold int
}

func DefaultParams() Params {
	return Params{
		NumNodes:      4,
		LLMQSize:      3,
		LLMQThreshold: 2,
	}
}

func (p *Params) validate() error {
	if p.NumNodes <= 0 {
		return fmt.Errorf("a network needs at least one node, got %d", p.NumNodes)
	}
	if p.NumNodes > testnet.MaxNodes {
		return fmt.Errorf("%d nodes exceed the maximum of %d", p.NumNodes, testnet.MaxNodes)
	}
	if len(p.ExtraArgs) > p.NumNodes {
		return fmt.Errorf("extra args given for %d nodes, network has %d", len(p.ExtraArgs), p.NumNodes)
	}
	if p.Masternodes > 0 {
		if p.Masternodes+1 > p.NumNodes {
			return fmt.Errorf("%d masternodes need at least %d nodes, network has %d", p.Masternodes, p.Masternodes+1, p.NumNodes)
		}
		p.SetupCleanChain = true
	}
	return nil
}

func (p Params) extraArgs(i int) []string {
	if i < len(p.ExtraArgs) {
		return p.ExtraArgs[i]
	}
	return nil
}

// Env is what a scenario gets to work with: the running network and the
// components driving it.
type Env struct {
	Log        zerolog.Logger
	Params     Params
	TmpDir     string
	Supervisor *process.Supervisor
	Network    *testnet.Network
	Clock      *mocktime.Coordinator
	Topology   *topology.Manager
	// Quorum manages the masternodes of a masternode network.
	Quorum *quorum.Orchestrator

	mockTimeStep int64
	stopGrace    time.Duration
	nodeArgs     []string
}

// Node returns node i and panics if it is not running.
func (e *Env) Node(i int) *process.NodeHandle {
	return e.Network.MustNode(i)
}

// Nodes returns all running nodes.
func (e *Env) Nodes() []*process.NodeHandle {
	return e.Network.Nodes()
}

// SyncAll waits for the given nodes, all nodes if none are given, to agree
// on the best block and the mempool.
func (e *Env) SyncAll(ctx context.Context, nodes ...*process.NodeHandle) error {
	if len(nodes) == 0 {
		nodes = e.Nodes()
	}
	return e.Topology.AwaitAllSynced(ctx, nodes, 0)
}

// SyncBlocks waits for the given nodes, all nodes if none are given, to
// agree on the best block.
func (e *Env) SyncBlocks(ctx context.Context, nodes ...*process.NodeHandle) error {
	if len(nodes) == 0 {
		nodes = e.Nodes()
	}
	return e.Topology.AwaitBlocksSynced(ctx, nodes, 0)
}

// BumpMockTime advances the mock time of the given nodes, all nodes if none
// are given, by delta seconds past now. A zero delta uses the configured step.
func (e *Env) BumpMockTime(ctx context.Context, delta int64, nodes ...*process.NodeHandle) error {
	if delta == 0 {
		delta = e.mockTimeStep
	}
	_, err := e.Clock.Bump(ctx, delta, nodes...)
	return err
}

// SetNodeTimes sets the mock time of all nodes to t.
func (e *Env) SetNodeTimes(ctx context.Context, t int64) error {
	return e.Clock.Set(ctx, t)
}

// SplitNetwork splits a network of at least four nodes between node 1 and
// node 2 and waits for both halves to sync on their own.
func (e *Env) SplitNetwork(ctx context.Context) error {
	nodes := e.Nodes()
	if len(nodes) < 4 {
		return fmt.Errorf("cannot split a network of %d nodes", len(nodes))
	}
	return e.Topology.SplitInto(ctx, nodes[:2], nodes[2:])
}

// JoinNetwork reverts SplitNetwork and waits for the network to sync.
func (e *Env) JoinNetwork(ctx context.Context) error {
	return e.Topology.Rejoin(ctx)
}

// NodeArgs returns the arguments node i is started with, besides the ones
// the network derives from its slot.
func (e *Env) NodeArgs(i int) []string {
	args := append([]string(nil), e.nodeArgs...)
	args = append(args, e.Params.extraArgs(i)...)
	return append(args, e.Clock.Args()...)
}

// StartNode starts node i with its configured arguments and extraArgs.
func (e *Env) StartNode(ctx context.Context, i int, extraArgs ...string) (*process.NodeHandle, error) {
	args := append(e.NodeArgs(i), extraArgs...)
	h, err := e.Supervisor.Start(ctx, e.Network.Spec(i, args...))
	if err != nil {
		return nil, err
	}
	e.Network.Add(h)
	return h, nil
}

// StopNode stops node i and clears its slot.
func (e *Env) StopNode(ctx context.Context, i int) error {
	h, ok := e.Network.Node(i)
	if !ok {
		return fmt.Errorf("node %d is not running", i)
	}
	if err := e.Supervisor.Stop(ctx, h, e.stopGrace); err != nil {
		return err
	}
	e.Network.Remove(i)
	return nil
}

// RestartNode stops node i and starts it again with extraArgs appended.
func (e *Env) RestartNode(ctx context.Context, i int, extraArgs ...string) (*process.NodeHandle, error) {
	h, ok := e.Network.Node(i)
	if !ok {
		return nil, fmt.Errorf("node %d is not running", i)
	}
	restarted, err := e.Supervisor.Restart(ctx, h, extraArgs...)
	if err != nil {
		return nil, err
	}
	e.Network.Add(restarted)
	return restarted, nil
}

// WaitForNodeExit waits for node i to exit on its own and clears its slot.
func (e *Env) WaitForNodeExit(ctx context.Context, i int, timeout time.Duration) error {
	h, ok := e.Network.Node(i)
	if !ok {
		return fmt.Errorf("node %d is not running", i)
	}
	err := e.Supervisor.WaitForExit(ctx, h, timeout)
	if !h.Running() {
		e.Network.Remove(i)
	}
	return err
}
