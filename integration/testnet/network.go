// Package testnet holds the session state of a harness run: the mutable
// registry of running nodes and the layout of their data directories and
// ports.
package testnet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/process"
)

// NetworkConfig is the immutable description of a test network.
type NetworkConfig struct {
	// Root is the temporary directory holding all node data directories.
	Root        string
	Binary      string
	Chain       string
	ConfFile    string
	RPCUser     string
	RPCPassword string
	PortSeed    int
	// BaseArgs are passed to every node.
	BaseArgs []string
	// ConfExtra lines are appended to every node's config file.
	ConfExtra []string
}

// Network is the registry of nodes of one harness run. Slots are addressed by
// node index and stay stable while nodes are stopped and restarted.
type Network struct {
	cfg   NetworkConfig
	ports Ports

	mu    sync.RWMutex
	nodes map[int]*process.NodeHandle
	size  int
}

func NewNetwork(cfg NetworkConfig) *Network {
	return &Network{
		cfg:   cfg,
		ports: Ports{Seed: cfg.PortSeed},
		nodes: make(map[int]*process.NodeHandle),
	}
}

// Config returns the network's configuration.
func (n *Network) Config() NetworkConfig {
	return n.cfg
}

// Ports returns the port assignment of the network.
func (n *Network) Ports() Ports {
	return n.ports
}

// Endpoint returns the rpc endpoint of node i.
func (n *Network) Endpoint(i int) module.RPCEndpoint {
	return module.RPCEndpoint{
		Host:     "127.0.0.1",
		Port:     n.ports.RPC(i),
		User:     n.cfg.RPCUser,
		Password: n.cfg.RPCPassword,
	}
}

// P2PAddr returns the address peers use to reach node i.
func (n *Network) P2PAddr(i int) string {
	return fmt.Sprintf("127.0.0.1:%d", n.ports.P2P(i))
}

// Datadir returns the data directory of node i.
func (n *Network) Datadir(i int) string {
	return DatadirPath(n.cfg.Root, i)
}

// InitializeDatadir creates the data directory of node i and writes its config.
func (n *Network) InitializeDatadir(i int) (string, error) {
	if i >= MaxNodes {
		return "", fmt.Errorf("node index %d exceeds the maximum of %d nodes", i, MaxNodes)
	}
	return InitializeDatadir(n.cfg.Root, i, ConfOptions{
		Chain:       n.cfg.Chain,
		ConfFile:    n.cfg.ConfFile,
		P2PPort:     n.ports.P2P(i),
		RPCPort:     n.ports.RPC(i),
		RPCUser:     n.cfg.RPCUser,
		RPCPassword: n.cfg.RPCPassword,
		Extra:       n.cfg.ConfExtra,
	})
}

// UserAgentComment returns the comment node i adds to its user agent. Peers
// identify node i by it.
func UserAgentComment(i int) string {
	return fmt.Sprintf("testnode%d", i)
}

// Spec returns the spec to start node i with. extraArgs are appended to the
// default arguments.
func (n *Network) Spec(i int, extraArgs ...string) process.NodeSpec {
	datadir := n.Datadir(i)
	args := []string{
		"-datadir=" + datadir,
		"-logtimemicros",
		"-logthreadnames",
		"-debug",
		"-debugexclude=libevent",
		"-debugexclude=leveldb",
		"-uacomment=" + UserAgentComment(i),
	}
	args = append(args, n.cfg.BaseArgs...)
	args = append(args, extraArgs...)

	return process.NodeSpec{
		Index:   i,
		Binary:  n.cfg.Binary,
		Dir:     datadir,
		Args:    args,
		RPC:     n.Endpoint(i),
		P2PPort: n.ports.P2P(i),
	}
}

// Add registers a started node in its slot, replacing a previous handle.
func (n *Network) Add(h *process.NodeHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[h.Index()] = h
	if h.Index() >= n.size {
		n.size = h.Index() + 1
	}
}

// Reserve grows the network to at least size slots without starting nodes.
func (n *Network) Reserve(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size > n.size {
		n.size = size
	}
}

// Remove clears slot i.
func (n *Network) Remove(i int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, i)
}

// Node returns the node in slot i.
func (n *Network) Node(i int) (*process.NodeHandle, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.nodes[i]
	return h, ok
}

// MustNode returns the node in slot i and panics if the slot is empty.
func (n *Network) MustNode(i int) *process.NodeHandle {
	h, ok := n.Node(i)
	if !ok {
		panic(fmt.Sprintf("node %d is not running", i))
	}
	return h
}

// Nodes returns all registered nodes in index order.
func (n *Network) Nodes() []*process.NodeHandle {
	n.mu.RLock()
	defer n.mu.RUnlock()
	nodes := make([]*process.NodeHandle, 0, len(n.nodes))
	for _, h := range n.nodes {
		nodes = append(nodes, h)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index() < nodes[j].Index() })
	return nodes
}

// Size returns the number of slots, i.e. the index the next new node gets.
func (n *Network) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.size
}
